package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"polycast/internal/store"
	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

const sourceLangDefault = "English"

// Router is the per-payload dispatch core. Every inbound frame runs the same
// gauntlet: role gate, payload classification, mode gate, collaborator calls,
// then fan-out to the submitter and (for hosts) every student in the room.
type Router struct {
	rooms       *store.Store
	snapshots   interfaces.SnapshotStore
	mode        *Mode
	transcriber interfaces.Transcriber
	translator  interfaces.Translator
	limiter     *RateLimiter
	logger      *log.Logger
}

// NewRouter wires the dispatch core.
func NewRouter(rooms *store.Store, snapshots interfaces.SnapshotStore, mode *Mode,
	transcriber interfaces.Transcriber, translator interfaces.Translator,
	logger *log.Logger) *Router {
	return &Router{
		rooms:       rooms,
		snapshots:   snapshots,
		mode:        mode,
		transcriber: transcriber,
		translator:  translator,
		limiter:     NewRateLimiter(),
		logger:      logger,
	}
}

// Limiter exposes the submission limiter so the sweeper can purge stale
// windows alongside its room sweep.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}

// HandleMessage processes one inbound payload. Violations are reported to the
// offender only and never close the connection.
func (r *Router) HandleMessage(ctx context.Context, conn interfaces.Connection, binary bool, payload []byte) {
	if conn.Role() != types.RoleHost {
		_ = conn.SendJSON(types.NewError("Students cannot send audio or text for transcription."))
		return
	}
	if conn.RoomCode() == "" {
		_ = conn.SendJSON(types.NewError("You must join a room before submitting."))
		return
	}
	if !r.limiter.Allow(conn.ID()) {
		_ = conn.SendJSON(types.NewError("You are sending submissions too quickly. Please slow down."))
		return
	}

	// A text_submit message may arrive on either frame type; anything else
	// on a binary frame is raw audio.
	if submit, ok := decodeTextSubmit(payload); ok {
		r.handleText(ctx, conn, submit)
		return
	}
	if binary {
		r.handleAudio(ctx, conn, payload)
		return
	}
	_ = conn.SendJSON(types.NewError("Unsupported message type."))
}

// decodeTextSubmit reports whether the payload is a text_submit message.
func decodeTextSubmit(payload []byte) (types.TextSubmit, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return types.TextSubmit{}, false
	}
	var submit types.TextSubmit
	if err := json.Unmarshal(trimmed, &submit); err != nil {
		return types.TextSubmit{}, false
	}
	return submit, submit.Type == types.MessageTypeTextSubmit
}

func (r *Router) handleAudio(ctx context.Context, conn interfaces.Connection, audio []byte) {
	if r.mode.IsText() {
		_ = conn.SendJSON(types.NewError("Audio submissions are only allowed in audio mode."))
		return
	}

	text, err := r.transcriber.Transcribe(ctx, audio, "chunk.webm")
	if err != nil {
		r.logger.Error("transcription failed", "room", conn.RoomCode(), "error", err)
		_ = conn.SendJSON(types.NewError("Transcription failed. Please try again."))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	// Audio submissions carry no source language; every target language
	// configured on the connection gets a translation.
	targets := dedupe(conn.TargetLangs(), "")
	translations, err := r.translate(ctx, conn, text, "", targets)
	if err != nil {
		return
	}

	msgs := []interface{}{types.Recognized{Type: types.MessageTypeRecognized, Data: text}}
	msgs = appendTranslations(msgs, targets, translations)
	r.broadcast(conn, text, msgs)
}

func (r *Router) handleText(ctx context.Context, conn interfaces.Connection, submit types.TextSubmit) {
	if !r.mode.IsText() {
		_ = conn.SendJSON(types.NewError("Text submissions are only allowed in text mode."))
		return
	}

	text := strings.TrimSpace(submit.Text)
	if text == "" {
		return
	}
	sourceLang := strings.TrimSpace(submit.Lang)
	if sourceLang == "" {
		sourceLang = sourceLangDefault
	}

	// Text submissions always target the base language plus the
	// connection's targets, minus the language the text arrived in.
	targets := dedupe(append([]string{sourceLangDefault}, conn.TargetLangs()...), sourceLang)
	translations, err := r.translate(ctx, conn, text, sourceLang, targets)
	if err != nil {
		return
	}

	msgs := []interface{}{types.Recognized{Type: types.MessageTypeRecognized, Lang: sourceLang, Data: text}}
	msgs = appendTranslations(msgs, targets, translations)
	r.broadcast(conn, text, msgs)
}

// translate runs one batched translator call. A failure is reported to the
// submitter alone and suppresses the whole emission.
func (r *Router) translate(ctx context.Context, conn interfaces.Connection, text, sourceLang string, targets []string) (map[string]string, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	translations, err := r.translator.TranslateBatch(ctx, text, sourceLang, targets)
	if err != nil {
		r.logger.Error("translation failed", "room", conn.RoomCode(), "targets", len(targets), "error", err)
		_ = conn.SendJSON(types.NewError("Translation failed. Please try again."))
		return nil, err
	}
	return translations, nil
}

// broadcast delivers the emission sequence to the submitter, replicates it to
// every student in the room, appends the recognized text to the transcript and
// mirrors the transcript to the snapshot store in the background.
func (r *Router) broadcast(conn interfaces.Connection, recognized string, msgs []interface{}) {
	for _, msg := range msgs {
		_ = conn.SendJSON(msg)
	}

	code := conn.RoomCode()
	for _, student := range r.rooms.StudentsOf(code) {
		for _, msg := range msgs {
			_ = student.SendJSON(msg)
		}
	}

	transcript, err := r.rooms.AppendTranscript(code, types.TranscriptEntry{
		Text:      recognized,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("transcript append failed", "room", code, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := r.snapshots.UpdateTranscript(ctx, code, transcript); err != nil {
			r.logger.Warn("transcript snapshot failed", "room", code, "error", err)
		}
	}()
}

// appendTranslations emits translations in target order, skipping targets the
// translator returned nothing for.
func appendTranslations(msgs []interface{}, targets []string, translations map[string]string) []interface{} {
	for _, lang := range targets {
		data, ok := translations[lang]
		if !ok || data == "" {
			continue
		}
		msgs = append(msgs, types.Translation{Type: types.MessageTypeTranslation, Lang: lang, Data: data})
	}
	return msgs
}

// dedupe returns langs with duplicates and the excluded language removed,
// preserving first-seen order. Comparison is case-insensitive.
func dedupe(langs []string, exclude string) []string {
	seen := make(map[string]struct{}, len(langs))
	var out []string
	for _, lang := range langs {
		key := strings.ToLower(strings.TrimSpace(lang))
		if key == "" || key == strings.ToLower(exclude) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(lang))
	}
	return out
}
