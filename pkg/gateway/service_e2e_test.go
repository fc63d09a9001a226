package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"shopchat/pkg/bus"
	"shopchat/pkg/channel"
	"shopchat/pkg/channel/socketio"
	"shopchat/pkg/config"
	"shopchat/pkg/session"
	"shopchat/pkg/sio/siotest"

	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	name    string
	inbound []bus.InboundMessage
	runErr  error

	mu     sync.Mutex
	errors []error
	done   chan struct{}
}

func (a *scriptedAdapter) Name() string {
	return a.name
}

func (a *scriptedAdapter) Run(ctx context.Context, handler channel.Handler) error {
	for _, inbound := range a.inbound {
		err := handler(ctx, inbound)

		a.mu.Lock()
		a.errors = append(a.errors, err)
		a.mu.Unlock()
	}

	close(a.done)
	if a.runErr != nil {
		return a.runErr
	}

	<-ctx.Done()
	return nil
}

func (a *scriptedAdapter) handlerErrors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.errors...)
}

type runningService struct {
	svc     *Service
	baseURL string
	cancel  context.CancelFunc
	errCh   chan error
}

func startService(t *testing.T, client DialogueClient, adapters []channel.Adapter, events *bus.MessageBus) *runningService {
	t.Helper()

	port := freeTCPPort(t)
	cfg := config.DefaultConfig()
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: port}

	svc, err := NewService(cfg, client, adapters, events, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	running := &runningService{
		svc:     svc,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		cancel:  cancel,
		errCh:   make(chan error, 1),
	}
	go func() {
		running.errCh <- svc.Run(ctx)
	}()

	waitHTTPStatus(t, running.baseURL+"/healthz", 2*time.Second)
	return running
}

func (r *runningService) stop(t *testing.T) error {
	t.Helper()
	r.cancel()

	select {
	case err := <-r.errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
		return nil
	}
}

func readStatus(t *testing.T, url string) (int, statusResponse) {
	t.Helper()

	response, err := http.Get(url)
	require.NoError(t, err)
	defer response.Body.Close()

	var status statusResponse
	require.NoError(t, json.NewDecoder(response.Body).Decode(&status))
	return response.StatusCode, status
}

// fetchStatus is safe to call from polling goroutines.
func fetchStatus(url string) (statusResponse, error) {
	response, err := http.Get(url)
	if err != nil {
		return statusResponse{}, err
	}
	defer response.Body.Close()

	var status statusResponse
	err = json.NewDecoder(response.Body).Decode(&status)
	return status, err
}

func TestGatewayServiceRunE2ESocketRoundTrip(t *testing.T) {
	client := newFakeDialogue()
	events := bus.NewMessageBus()
	defer events.Close()

	adapter, err := socketio.NewAdapter(config.DefaultConfig().Channels.SocketIO, session.NewMemoryRegistry(), events, nil)
	require.NoError(t, err)

	running := startService(t, client, []channel.Adapter{adapter}, events)

	socket := siotest.Dial(t, running.baseURL, config.DefaultSocketIOPath+"/", "")
	socket.Emit(config.DefaultUserMessageEvent, map[string]any{"message": "one"})
	reply := socket.ReadEvent()
	require.Equal(t, config.DefaultBotMessageEvent, reply.Name)
	require.JSONEq(t, `{"text":"ok:one"}`, string(reply.Args[0]))

	socket.Emit(config.DefaultUserMessageEvent, map[string]any{"message": "two"})
	reply = socket.ReadEvent()
	require.JSONEq(t, `{"text":"ok:two"}`, string(reply.Args[0]))

	client.mu.Lock()
	require.Equal(t, []string{"one", "two"}, client.messages)
	require.Equal(t, []string{socket.SID, socket.SID}, client.senders)
	client.mu.Unlock()

	require.Eventually(t, func() bool {
		status, err := fetchStatus(running.baseURL + "/healthz")
		return err == nil && status.Messages["message_forwarded"] == 2 && status.Messages["message_received"] == 2
	}, 2*time.Second, 20*time.Millisecond)

	liveness, err := http.Get(running.baseURL + "/webhooks/socketio/")
	require.NoError(t, err)
	require.NoError(t, liveness.Body.Close())
	require.Equal(t, http.StatusOK, liveness.StatusCode)

	require.NoError(t, running.stop(t))
}

func TestGatewayServiceRunE2EDialogueFailureIsCounted(t *testing.T) {
	client := newFakeDialogue()
	client.sendErr = errors.New("dialogue exploded")

	adapter := &scriptedAdapter{
		name: "scripted",
		inbound: []bus.InboundMessage{
			{Channel: "scripted", SenderID: "s-1", Text: "trigger error", Output: &textOutput{}},
		},
		done: make(chan struct{}),
	}

	running := startService(t, client, []channel.Adapter{adapter}, nil)

	select {
	case <-adapter.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for adapter scripted messages")
	}

	errs := adapter.handlerErrors()
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "dialogue exploded")

	require.Eventually(t, func() bool {
		status, err := fetchStatus(running.baseURL + "/healthz")
		return err == nil && status.Messages["message_failed"] == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, running.stop(t))
}

func TestGatewayServiceRunE2EChannelFailureStopsService(t *testing.T) {
	adapter := &scriptedAdapter{name: "scripted", runErr: errors.New("bot token revoked"), done: make(chan struct{})}

	port := freeTCPPort(t)
	cfg := config.DefaultConfig()
	cfg.Gateway = config.GatewayConfig{Host: "127.0.0.1", Port: port}

	svc, err := NewService(cfg, newFakeDialogue(), []channel.Adapter{adapter}, nil, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(context.Background())
	}()

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "bot token revoked")
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to fail")
	}
}

func TestGatewayServiceReadyzTransitionsOnDialogueHealthRecovery(t *testing.T) {
	client := newFakeDialogue()
	client.setHealthErr(errors.New("starting up"))

	adapter := &scriptedAdapter{name: "scripted", done: make(chan struct{})}
	running := startService(t, client, []channel.Adapter{adapter}, nil)
	readyURL := running.baseURL + "/readyz"

	statusCode, status := readStatus(t, readyURL)
	require.Equal(t, http.StatusServiceUnavailable, statusCode)
	require.Equal(t, "not_ready", status.Status)
	require.Contains(t, status.DialogueLastErr, "starting up")

	client.setHealthErr(nil)
	require.NoError(t, running.svc.checkDialogueHealth(context.Background()))
	statusCode, status = readStatus(t, readyURL)
	require.Equal(t, http.StatusOK, statusCode)
	require.Equal(t, "ready", status.Status)
	require.NotEmpty(t, status.DialogueLastOKAt)

	client.setHealthErr(errors.New("temporary outage"))
	require.Error(t, running.svc.checkDialogueHealth(context.Background()))
	require.Equal(t, http.StatusServiceUnavailable, waitHTTPStatus(t, readyURL, 2*time.Second))

	require.NoError(t, running.stop(t))
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
