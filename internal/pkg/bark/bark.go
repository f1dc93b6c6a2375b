// Package bark sends operator push notifications via the Bark API. Used for
// rate-limit abuse alerts.
package bark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	defaultServer  = "https://day.app"
	throttleWindow = 10 * time.Minute
)

// ConfigFunc supplies the current Bark settings on every push, so config
// reloads take effect without restarting.
type ConfigFunc func() (key, serverURL, title string)

// Service posts notifications to a Bark server. A zero key disables pushes.
type Service struct {
	configFn   ConfigFunc
	httpClient *http.Client

	mu       sync.Mutex
	lastPush map[string]time.Time
}

func New(configFn ConfigFunc) *Service {
	return &Service{
		configFn:   configFn,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lastPush:   make(map[string]time.Time),
	}
}

type pushPayload struct {
	DeviceKey string `json:"device_key"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Category  string `json:"category,omitempty"`
	Group     string `json:"group,omitempty"`
}

// Push sends a notification immediately, without throttling.
func (s *Service) Push(title, body string) error {
	key, serverURL, siteTitle := s.configFn()
	if key == "" {
		return fmt.Errorf("bark key not configured")
	}
	if serverURL == "" {
		serverURL = defaultServer
	}

	b, err := json.Marshal(pushPayload{
		DeviceKey: key,
		Title:     fmt.Sprintf("[%s] %s", siteTitle, title),
		Body:      body,
		Category:  siteTitle,
		Group:     siteTitle,
	})
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Post(serverURL+"/push", "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("bark push: status %d", resp.StatusCode)
	}
	return nil
}

// ThrottlePush reports a rate-limit hit, at most once per IP/path pair per
// throttle window.
func (s *Service) ThrottlePush(ip, path string) {
	key, _, _ := s.configFn()
	if key == "" {
		return
	}

	throttleKey := ip + "|" + path
	s.mu.Lock()
	last, seen := s.lastPush[throttleKey]
	if seen && time.Since(last) < throttleWindow {
		s.mu.Unlock()
		return
	}
	s.lastPush[throttleKey] = time.Now()
	s.mu.Unlock()

	_ = s.Push("suspected abuse", fmt.Sprintf("IP: %s Path: %s", ip, path))
}
