package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autoposter/internal/eventbus"
	rtsup "autoposter/internal/runtime/supervisor"
	logx "autoposter/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyLimit = 100

// Service queues alerts and sends them one at a time.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	queue chan string
	sup   *rtsup.Supervisor
	unsub func()

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start subscribes to the bus and runs the send loop. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sender == nil || s.queue != nil {
		return
	}
	s.queue = make(chan string, s.cfg.QueueSize)
	events, unsub := s.bus.Subscribe(s.cfg.QueueSize,
		eventbus.PostFailed, eventbus.PostSkipped, eventbus.PostSucceeded, eventbus.VerificationRequested)
	s.unsub = unsub
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))

	q := s.queue
	cfg := s.cfg
	s.sup.Go("notifier.forward", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				text, alert := Format(e, cfg)
				if !alert {
					continue
				}
				select {
				case q <- text:
				default:
					s.log.Warn("alert dropped; queue full", logx.String("kind", string(e.Kind)))
				}
			}
		}
	})
	s.sup.GoRestart("notifier.send", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case text := <-q:
				s.sendWithRetry(c, text)
			}
		}
	})
}

// Stop unsubscribes from the bus and stops the loops, waiting up to timeout.
// Queued alerts that were not sent yet are dropped.
func (s *Service) Stop(timeout time.Duration) {
	s.mu.Lock()
	sup, unsub := s.sup, s.unsub
	s.sup, s.unsub, s.queue = nil, nil, nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if sup != nil {
		if err := sup.Stop(timeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			s.log.Debug("notifier stopped with error", logx.Err(err))
		}
	}
}

// Notify queues a free-form alert.
func (s *Service) Notify(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(text string, err error) {
	item := HistoryItem{At: time.Now(), Text: text}
	if err != nil {
		item.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) sendWithRetry(ctx context.Context, text string) {
	attempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sender.SendText(cctx, text)
		cancel()
		if err == nil {
			s.appendHistory(text, nil)
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(s.cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.appendHistory(text, lastErr)
	s.log.Warn("alert not delivered", logx.Err(lastErr))
}

// retryDelay is base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
