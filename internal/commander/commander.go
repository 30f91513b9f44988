package commander

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Commander sends best-effort HTTP commands to a robot's own control
// endpoint. Commands are dispatched after the owning state transition is
// already committed; failures are logged, never rolled back.
type Commander interface {
	// StartLineFollowing tells the robot to follow the line of the given
	// color toward its destination.
	StartLineFollowing(ip string, color [3]byte) error

	// StopLineFollowing tells the robot to stop following the line.
	StopLineFollowing(ip string) error

	// TurnAround requests a 180 degree turn.
	TurnAround(ip string) error
}

// Config holds commander construction options.
type Config struct {
	RobotPort int
	Timeout   time.Duration
}

type httpCommander struct {
	client *http.Client
	port   int
}

// NewCommander creates a Commander speaking plain HTTP to robots.
func NewCommander(cfg Config) Commander {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	port := cfg.RobotPort
	if port == 0 {
		port = 5000
	}

	return &httpCommander{
		client: &http.Client{Timeout: timeout},
		port:   port,
	}
}

type lineFollowPayload struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func (c *httpCommander) StartLineFollowing(ip string, color [3]byte) error {
	payload := lineFollowPayload{R: int(color[0]), G: int(color[1]), B: int(color[2])}
	return c.post(ip, "/start-line-follow", payload)
}

func (c *httpCommander) StopLineFollowing(ip string) error {
	return c.post(ip, "/stop-line-follow", nil)
}

func (c *httpCommander) TurnAround(ip string) error {
	return c.post(ip, "/turn-around", nil)
}

func (c *httpCommander) post(ip, path string, payload interface{}) error {
	url := fmt.Sprintf("http://%s:%d%s", ip, c.port, path)

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal command payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	resp, err := c.client.Post(url, "application/json", body)
	if err != nil {
		return fmt.Errorf("failed to send command to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("robot at %s rejected command %s: %s", ip, path, resp.Status)
	}

	return nil
}

// Dispatch runs a command in the background and logs its outcome. Callers
// use this after committing a transition so actuation never blocks or
// rolls back state.
func Dispatch(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			log.Printf("Warning: command dispatch to robot %s failed: %v", name, err)
		}
	}()
}
