package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/courier-backend/pkg/errors"
)

func TestSendPostsMessage(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", "key-1", WithSender("Courier"), WithChannel("SMS"))
	require.NoError(t, err)

	err = client.Send(context.Background(), Message{To: "+27820000000", Body: "Your order is on the way"})
	require.NoError(t, err)
	assert.Equal(t, "+27820000000", got.To)
	assert.Equal(t, ChannelSMS, got.Channel)
	assert.Equal(t, "Courier", got.From)
}

func TestSendMapsGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "key-1")
	require.NoError(t, err)

	err = client.Send(context.Background(), Message{To: "+27820000000", Body: "hi"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}

func TestSendValidatesMessage(t *testing.T) {
	client, err := NewClient("http://notify.test", "key-1")
	require.NoError(t, err)

	assert.True(t, pkgerrors.Is(client.Send(context.Background(), Message{Body: "hi"}), pkgerrors.CodeValidation))
	assert.True(t, pkgerrors.Is(client.Send(context.Background(), Message{To: "+27820000000"}), pkgerrors.CodeValidation))
}

func TestNewClientRequiresSettings(t *testing.T) {
	_, err := NewClient("", "key")
	assert.Error(t, err)
	_, err = NewClient("http://notify.test", "")
	assert.Error(t, err)
}
