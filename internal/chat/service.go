// Package chat runs one conversational exchange end to end: language
// detection, prompt composition, completion, directive routing, image
// synthesis and history bookkeeping.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dohr-michael/echovision/internal/config"
	"github.com/dohr-michael/echovision/internal/events"
	"github.com/dohr-michael/echovision/internal/images"
	"github.com/dohr-michael/echovision/internal/language"
	"github.com/dohr-michael/echovision/internal/models"
	"github.com/dohr-michael/echovision/internal/prompt"
	"github.com/dohr-michael/echovision/internal/router"
	"github.com/dohr-michael/echovision/internal/sessions"
)

var (
	// ErrTimeout is returned when the exchange deadline passed before any
	// reply text existed. Callers may retry.
	ErrTimeout = errors.New("exchange timed out")
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("message is empty")
)

// imageFailureNote is appended to the visible text when synthesis fails.
const imageFailureNote = "\n\nSorry, I couldn't generate the image due to an error: %v"

// persistTimeout bounds the snapshot save that follows every exchange.
const persistTimeout = 10 * time.Second

// Reply is the result of one exchange.
type Reply struct {
	Text        string
	Image       []byte
	ImagePrompt string
	ImageError  string
	Language    language.Code
	SessionID   string
	Suppressed  router.SuppressReason
}

// Params are the tunables that may change on config reload.
type Params struct {
	Completion   models.Options
	Images       config.ImagesConfig
	WindowTurns  int
	Timeout      time.Duration
	ImageTimeout time.Duration
}

// ParamsFromConfig extracts the exchange tunables from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Completion:   models.OptionsFromConfig(cfg.Completion),
		Images:       cfg.Images,
		WindowTurns:  cfg.Memory.WindowTurns,
		Timeout:      cfg.Gateway.ExchangeTimeout.Duration(),
		ImageTimeout: cfg.Gateway.ImageExchangeTimeout.Duration(),
	}
}

// Deps are the collaborators a Service is built from.
type Deps struct {
	Sessions    *sessions.Manager
	Completer   models.Completer
	Synthesizer images.Synthesizer
	Archive     *images.Archive    // optional
	Bus         *events.Bus        // optional
	Detector    *language.Detector // optional, whatlanggo by default
}

// Service orchestrates exchanges. At most one completion and one synthesis
// run at a time process-wide; exchanges on one session are serialized.
type Service struct {
	sessions    *sessions.Manager
	completer   models.Completer
	synthesizer images.Synthesizer
	archive     *images.Archive
	bus         *events.Bus

	detector   *language.Detector
	classifier *language.Classifier
	composer   *prompt.Composer
	router     *router.Router

	textGate  *models.Gate
	imageGate *models.Gate

	params atomic.Pointer[Params]
}

// NewService wires a Service.
func NewService(deps Deps, params Params) *Service {
	classifier := language.NewClassifier()
	detector := deps.Detector
	if detector == nil {
		detector = language.NewDetector(nil)
	}
	s := &Service{
		sessions:    deps.Sessions,
		completer:   deps.Completer,
		synthesizer: deps.Synthesizer,
		archive:     deps.Archive,
		bus:         deps.Bus,
		detector:    detector,
		classifier:  classifier,
		composer:    prompt.NewComposer(),
		router:      router.New(classifier),
		textGate:    models.NewGate("text completion"),
		imageGate:   models.NewGate("image synthesis"),
	}
	s.SetParams(params)
	return s
}

// SetParams swaps the tunables used by subsequent exchanges.
func (s *Service) SetParams(p Params) {
	if p.WindowTurns <= 0 {
		p.WindowTurns = sessions.DefaultWindowTurns
	}
	s.params.Store(&p)
}

// Params returns the current tunables.
func (s *Service) Params() Params {
	return *s.params.Load()
}

// Exchange answers message within session sessionID. An empty sessionID
// starts a new session. Upstream failures degrade into reply text; the only
// errors are invalid input, ErrTimeout and caller cancellation.
func (s *Service) Exchange(ctx context.Context, sessionID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = sessions.NewID()
	}
	if err := sessions.ValidateID(sessionID); err != nil {
		return nil, err
	}

	p := s.Params()
	timeout := p.Timeout
	if s.classifier.WantsImage(message, "") {
		timeout = p.ImageTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx = events.ContextWithSessionID(ctx, sessionID)
	start := time.Now()

	sess, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, s.abort(ctx, sessionID, start, fmt.Errorf("acquire session: %w", err))
	}
	defer s.sessions.Release(sess)

	lang := s.detector.Detect(message)
	s.publish(sessionID, events.ChatRequestPayload{Message: message, Language: string(lang)})
	slog.Info("chat exchange", "session_id", sessionID, "language", lang, "timeout", timeout)

	promptText := s.composer.Compose(message, sess.History().Window(p.WindowTurns), lang)

	raw, err := s.complete(ctx, promptText, p.Completion)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.abort(ctx, sessionID, start, err)
		}
		raw = models.FallbackReply(err)
	}

	routed := s.router.Route(raw, message)
	reply := &Reply{
		Text:        routed.Text,
		ImagePrompt: routed.ImagePrompt,
		Language:    lang,
		SessionID:   sessionID,
		Suppressed:  routed.Suppressed,
	}
	if routed.Suppressed != router.NotSuppressed {
		s.publish(sessionID, events.ImageSuppressedPayload{Reason: string(routed.Suppressed)})
	}

	if routed.WantsImage() {
		img, err := s.synthesize(ctx, sessionID, routed.ImagePrompt, p.Images)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("image step cut by exchange deadline, returning text only",
					"session_id", sessionID, "error", err)
			}
			reply.ImageError = err.Error()
			reply.Text += fmt.Sprintf(imageFailureNote, err)
		} else {
			reply.Image = img.PNG
		}
	}

	sess.History().Append(message, reply.Text)

	// The exchange deadline may already be spent by a slow image step.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.sessions.Persist(persistCtx, sess); err != nil {
		slog.Warn("session snapshot not saved", "session_id", sessionID, "error", err)
	}

	s.publish(sessionID, events.ChatReplyPayload{
		Text:       reply.Text,
		Language:   string(lang),
		HasImage:   reply.Image != nil,
		Suppressed: string(reply.Suppressed),
		Duration:   time.Since(start),
	})
	return reply, nil
}

// abort maps a failure before any reply text existed to the returned error.
func (s *Service) abort(ctx context.Context, sessionID string, start time.Time, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
		slog.Warn("chat exchange timed out", "session_id", sessionID, "elapsed", time.Since(start).Truncate(time.Millisecond))
	}
	s.publish(sessionID, events.ChatReplyPayload{Error: err.Error(), Duration: time.Since(start)})
	return err
}

func (s *Service) complete(ctx context.Context, promptText string, opts models.Options) (string, error) {
	var out models.Completion
	start := time.Now()
	err := s.textGate.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.completer.Complete(ctx, promptText, opts)
		return err
	})

	payload := events.CompletionCallPayload{
		Model:        s.completer.Name(),
		PromptTokens: out.PromptTokens,
		OutputTokens: out.OutputTokens,
		Duration:     time.Since(start),
	}
	if err != nil {
		payload.Error = err.Error()
		slog.Error("text completion failed",
			"session_id", events.SessionIDFromContext(ctx),
			"model", s.completer.Name(),
			"error", models.HandleError(err))
	}
	s.publish(events.SessionIDFromContext(ctx), payload)
	return out.Text, err
}

func (s *Service) synthesize(ctx context.Context, sessionID, imagePrompt string, cfg config.ImagesConfig) (*images.Image, error) {
	s.publish(sessionID, events.ImageRequestedPayload{Prompt: imagePrompt})
	start := time.Now()

	var img *images.Image
	err := s.imageGate.Do(ctx, func(ctx context.Context) error {
		var err error
		img, err = s.synthesizer.Synthesize(ctx, images.RequestFromConfig(cfg, imagePrompt))
		return err
	})
	if err != nil {
		slog.Error("image synthesis failed", "session_id", sessionID, "prompt", imagePrompt, "error", err)
		s.publish(sessionID, events.ImageFailedPayload{Prompt: imagePrompt, Error: err.Error()})
		return nil, err
	}

	path, aerr := s.archive.Save(sessionID, img)
	if aerr != nil {
		slog.Warn("image not archived", "session_id", sessionID, "error", aerr)
	}
	s.publish(sessionID, events.ImageGeneratedPayload{
		Prompt:   imagePrompt,
		Width:    img.Width,
		Height:   img.Height,
		Bytes:    len(img.PNG),
		File:     path,
		Duration: time.Since(start),
	})
	return img, nil
}

// Clear forgets a session, its snapshot and its archived images. It reports
// whether the session existed.
func (s *Service) Clear(ctx context.Context, sessionID string) (bool, error) {
	existed, err := s.sessions.Clear(ctx, sessionID)
	if err != nil {
		return existed, err
	}
	if err := s.archive.Remove(sessionID); err != nil {
		slog.Warn("archived images not removed", "session_id", sessionID, "error", err)
	}
	s.publish(sessionID, events.SessionClearedPayload{Existed: existed})
	return existed, nil
}

// Sessions lists live sessions.
func (s *Service) Sessions() []sessions.Info {
	return s.sessions.List()
}

// Stats aggregates live sessions.
func (s *Service) Stats() sessions.ManagerStats {
	return s.sessions.Stats()
}

func (s *Service) publish(sessionID string, payload events.EventPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewTypedEventWithSession(events.SourceChat, payload, sessionID))
}

// SessionEvents returns a manager option publishing creation and idle
// eviction of sessions on bus.
func SessionEvents(bus *events.Bus, idleTTL time.Duration) sessions.ManagerOption {
	return sessions.WithHooks(
		func(id string) {
			bus.Publish(events.NewTypedEventWithSession(events.SourceSessions, events.SessionCreatedPayload{}, id))
		},
		func(id string) {
			bus.Publish(events.NewTypedEventWithSession(events.SourceSessions, events.SessionEvictedPayload{IdleTTL: idleTTL}, id))
		},
	)
}
