package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/hooks"
	"github.com/goodboyai/kennel/pkg/models"
)

// peerForwardTimeout bounds one outbound notification per peer.
const peerForwardTimeout = 5 * time.Second

// peerForwarder pushes judgment notifications to sibling nodes through
// their hook ingress. Forwards are best-effort: failures are logged and
// never reach the judging caller.
type peerForwarder struct {
	peers  []string
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

func newPeerForwarder(peers []string, logger *slog.Logger) *peerForwarder {
	return &peerForwarder{
		peers:  peers,
		client: &http.Client{Timeout: peerForwardTimeout},
		logger: logger.With("component", "peers"),
	}
}

// onJudgment is a bus handler. Delivery runs on the publisher's
// goroutine, so the HTTP posts move to their own.
func (f *peerForwarder) onJudgment(evt bus.Event) {
	j, ok := evt.Payload.(*models.Judgment)
	if !ok {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.forward(j)
	}()
}

func (f *peerForwarder) forward(j *models.Judgment) {
	evt := hooks.Event{
		Type: hooks.Notification,
		Payload: hooks.Payload{
			Message: bus.TopicJudgmentCreated,
			Input:   judgmentInput(j),
		},
	}
	body, err := json.Marshal(evt)
	if err != nil {
		f.logger.Warn("failed to encode judgment forward", "judgment_id", j.ID, "error", err)
		return
	}
	for _, peer := range f.peers {
		f.post(peer, body)
	}
}

func (f *peerForwarder) post(peer string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), peerForwardTimeout)
	defer cancel()

	url := strings.TrimRight(peer, "/") + "/hooks/event"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		f.logger.Warn("failed to build peer request", "peer", peer, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("failed to forward judgment", "peer", peer, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		f.logger.Warn("peer rejected judgment forward", "peer", peer, "status", resp.StatusCode)
	}
}

// drain waits for in-flight forwards. Called during teardown so a fast
// shutdown cannot strand half-written requests.
func (f *peerForwarder) drain() { f.wg.Wait() }

// judgmentInput renders the judgment as the generic map payload the hook
// ingress expects on the far side.
func judgmentInput(j *models.Judgment) map[string]any {
	raw, err := json.Marshal(j)
	if err != nil {
		return map[string]any{"judgment_id": j.ID}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"judgment_id": j.ID}
	}
	return m
}
