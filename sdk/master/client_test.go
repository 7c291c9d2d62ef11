package master

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func replyHandler(t *testing.T, code int32, data interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		reply := struct {
			Code int32           `json:"code"`
			Msg  string          `json:"msg"`
			Data json.RawMessage `json:"data"`
		}{Code: code, Data: raw}
		if code != 0 {
			reply.Msg = "not leader"
		}
		body, err := json.Marshal(reply)
		require.NoError(t, err)
		w.Write(body)
	}
}

func TestGetVolumeStat(t *testing.T) {
	srv := httptest.NewServer(replyHandler(t, 0, map[string]interface{}{
		"UsedSize":  uint64(100),
		"TotalSize": uint64(1000),
	}))
	defer srv.Close()

	mc := NewMasterClient([]string{strings.TrimPrefix(srv.URL, "http://")}, false)
	info, err := mc.GetVolumeStat("vol1")
	require.NoError(t, err)
	require.Equal(t, uint64(100), info.UsedSize)
	require.Equal(t, uint64(1000), info.TotalSize)
}

func TestServeRequestCyclesHostsOnFailure(t *testing.T) {
	good := httptest.NewServer(replyHandler(t, 0, map[string]interface{}{
		"UsedSize":  uint64(5),
		"TotalSize": uint64(10),
	}))
	defer good.Close()

	// First host refuses the connection outright; MasterClient should
	// move on to the second (good) host rather than failing the call.
	badHost := "127.0.0.1:1" // reserved, nothing listens here
	goodHost := strings.TrimPrefix(good.URL, "http://")

	mc := NewMasterClient([]string{badHost, goodHost}, false)
	info, err := mc.GetVolumeStat("vol1")
	require.NoError(t, err)
	require.Equal(t, uint64(5), info.UsedSize)
}

func TestServeRequestNotLeaderRetries(t *testing.T) {
	calls := 0
	notLeader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprintf(w, `{"code":1,"msg":"not leader","data":null}`)
	}))
	defer notLeader.Close()
	good := httptest.NewServer(replyHandler(t, 0, map[string]interface{}{"UsedSize": uint64(1), "TotalSize": uint64(2)}))
	defer good.Close()

	hosts := []string{strings.TrimPrefix(notLeader.URL, "http://"), strings.TrimPrefix(good.URL, "http://")}
	mc := NewMasterClient(hosts, false)
	info, err := mc.GetVolumeStat("vol1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.UsedSize)
}

func TestServeRequestAllHostsExhausted(t *testing.T) {
	mc := NewMasterClient([]string{"127.0.0.1:1", "127.0.0.1:2"}, false)
	_, err := mc.GetVolumeStat("vol1")
	require.Error(t, err)
}

func TestAuthKeyIsStableMD5(t *testing.T) {
	require.Equal(t, authKey("owner1"), authKey("owner1"))
	require.NotEqual(t, authKey("owner1"), authKey("owner2"))
	require.Len(t, authKey("owner1"), 32)
}
