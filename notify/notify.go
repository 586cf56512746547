// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package notify tells the requester of a deposit where to send the funds.
//
// Delivery is best effort. A failed notification is reported to the caller
// but never undoes the address assignment that preceded it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const (
	// DefaultTimeout bounds a single notification attempt.
	DefaultTimeout = 10 * time.Second

	// defaultTripAfter is the number of consecutive failures after which
	// the breaker opens.
	defaultTripAfter = 5

	// defaultOpenTimeout is how long the breaker stays open before a
	// probe request is let through.
	defaultOpenTimeout = time.Minute
)

// Notifier delivers deposit instructions to the requester.
type Notifier interface {
	// Notify asks the requester identified by ref to send amount to
	// address.
	Notify(ctx context.Context, ref string, amount decimal.Decimal,
		address string) error
}

// Message is the JSON body posted to the notification service.
type Message struct {
	Text string `json:"text"`
}

// NewMessage returns the instruction text for a deposit.
func NewMessage(amount decimal.Decimal, address string) Message {
	return Message{
		Text: fmt.Sprintf("Send %s BTC to address `%s`",
			amount.String(), address),
	}
}

// Config configures an HTTP notifier.
type Config struct {
	// Host is the host[:port] of the notification service. When empty
	// notifications are only logged.
	Host string

	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// TripAfter is the number of consecutive failures that open the
	// breaker. Zero means five.
	TripAfter uint32

	// OpenTimeout is how long the open breaker rejects requests. Zero
	// means one minute.
	OpenTimeout time.Duration

	// Client is the HTTP client to use. Nil means a client with Timeout.
	Client *http.Client
}

// New returns the notifier described by cfg: an HTTPNotifier when a host is
// configured and a LogNotifier otherwise.
func New(cfg *Config) Notifier {
	if cfg.Host == "" {
		log.Info("No notification host configured, notifications " +
			"will only be logged")
		return LogNotifier{}
	}
	return NewHTTPNotifier(cfg)
}

// LogNotifier only logs the notifications it is handed.
type LogNotifier struct{}

// Notify logs the instruction.
func (LogNotifier) Notify(_ context.Context, ref string,
	amount decimal.Decimal, address string) error {

	log.Infof("Notification for %q: %s", ref,
		NewMessage(amount, address).Text)
	return nil
}

// HTTPNotifier posts notifications to an HTTP service, guarded by a circuit
// breaker so a dead service does not slow down every sweep.
type HTTPNotifier struct {
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// A compile-time assertion to ensure HTTPNotifier satisfies the Notifier
// interface.
var _ Notifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier creates a notifier posting to cfg.Host.
func NewHTTPNotifier(cfg *Config) *HTTPNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tripAfter := cfg.TripAfter
	if tripAfter == 0 {
		tripAfter = defaultTripAfter
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = defaultOpenTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	settings := gobreaker.Settings{
		Name:        "notify-" + cfg.Host,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %v to %v",
				name, from, to)
		},
	}

	return &HTTPNotifier{
		baseURL: &url.URL{Scheme: "http", Host: cfg.Host},
		timeout: timeout,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// endpoint returns the URL notifications for ref are posted to.
func (n *HTTPNotifier) endpoint(ref string) string {
	return n.baseURL.JoinPath("notifications", ref).String()
}

// Notify posts the instruction for ref. Any failure, including an open
// breaker, is returned as ErrNotificationFailure.
func (n *HTTPNotifier) Notify(ctx context.Context, ref string,
	amount decimal.Decimal, address string) error {

	body, err := json.Marshal(NewMessage(amount, address))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, n.endpoint(ref), body)
	})
	switch {
	case err == nil:
		log.Debugf("Delivered notification for %q", ref)
		return nil

	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):

		str := fmt.Sprintf("notification service unavailable, "+
			"dropping notification for %q", ref)
		return deposit.NewError(deposit.ErrNotificationFailure, str, err)

	default:
		str := fmt.Sprintf("notify %q", ref)
		return deposit.NewError(deposit.ErrNotificationFailure, str, err)
	}
}

// post sends one request and treats any non 2xx status as failure.
func (n *HTTPNotifier) post(ctx context.Context, endpoint string,
	body []byte) error {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
