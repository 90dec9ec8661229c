// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Database record page elements.
var (
	FullRecordButton = render.PartialText("View Full Record")
	RecordBlock      = render.Tag("pre")
	ModalClose       = render.CSS(".close")
)

// DatabaseFetcher reads database records through a Renderer session: it
// opens the record page, reveals the full record and reads its JSON block.
// Calls are serialized because a session drives one page at a time.
type DatabaseFetcher struct {
	Renderer render.Renderer
	Policy   types.RetryPolicy

	// ReadyTimeout bounds the wait for the record page.
	ReadyTimeout time.Duration

	// MarkerWait is the pause before re-reading a block that has not
	// rendered its JSON yet.
	MarkerWait time.Duration

	Logger zerolog.Logger

	mu sync.Mutex
}

// envelope is the stored form of a database record.
type envelope struct {
	ReactionID string          `json:"reaction_id"`
	Data       json.RawMessage `json:"data"`
	Success    bool            `json:"success"`
}

func (f *DatabaseFetcher) Fetch(ctx context.Context, item types.ItemRef) types.RawRecord {
	ctx, span := tracer.Start(ctx, "DatabaseFetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", item.URL))

	f.mu.Lock()
	defer f.mu.Unlock()

	var data json.RawMessage
	attempts, err := Do(ctx, f.Policy, func(ctx context.Context, n int) error {
		d, err := f.fetchOnce(ctx, item.URL)
		if err != nil {
			f.Logger.Debug().Err(err).Str("url", item.URL).Int("attempt", n).Msg("record fetch attempt failed")
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		f.Logger.Warn().Err(err).Str("url", item.URL).Int("attempts", attempts).Msg("record failed")
		return failed(item, types.PayloadDatabase, attempts, err)
	}

	env, err := json.Marshal(envelope{ReactionID: RecordID(item.URL), Data: data, Success: true})
	if err != nil {
		return failed(item, types.PayloadDatabase, attempts, fmt.Errorf("encoding record: %w", err))
	}
	return types.RawRecord{
		URL:       item.URL,
		Kind:      types.PayloadDatabase,
		Database:  env,
		Succeeded: true,
		Attempts:  attempts,
	}
}

func (f *DatabaseFetcher) fetchOnce(ctx context.Context, url string) (json.RawMessage, error) {
	r := f.Renderer
	if err := r.Navigate(ctx, url); err != nil {
		return nil, err
	}
	if err := r.WaitReady(ctx, f.ReadyTimeout, FullRecordButton); err != nil {
		return nil, err
	}
	buttons, err := r.Find(FullRecordButton)
	if err != nil {
		return nil, err
	}
	if len(buttons) == 0 {
		return nil, fmt.Errorf("%w: no full record control", ErrPayload)
	}
	if err := r.Click(ctx, buttons[0]); err != nil {
		return nil, fmt.Errorf("opening full record: %w", err)
	}

	text, err := f.readBlock()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(text, "{") {
		// The block can exist before its content renders; read it once more.
		if err := sleep(ctx, f.MarkerWait); err != nil {
			return nil, err
		}
		if text, err = f.readBlock(); err != nil {
			return nil, err
		}
	}
	if !strings.HasPrefix(text, "{") {
		return nil, ErrMarker
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: record block is not valid JSON", ErrPayload)
	}

	if closers, err := r.Find(ModalClose); err == nil && len(closers) > 0 {
		_ = r.Click(ctx, closers[0])
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return nil, fmt.Errorf("compacting record: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *DatabaseFetcher) readBlock() (string, error) {
	blocks, err := f.Renderer.Find(RecordBlock)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "", nil
	}
	return strings.TrimSpace(blocks[0].Text), nil
}

// RecordID is the last path segment of a record URL.
func RecordID(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return path.Base(strings.TrimRight(url, "/"))
}
