package alert

import (
	"fmt"
	"sync"
	"time"

	iface "PotholeDetect/interface"
	"PotholeDetect/logger"
	"PotholeDetect/monitor"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 5 * time.Second

// DefaultCooldown matches the on-device alert cadence: at most one alert
// every two seconds, however many frames contain potholes in between.
const DefaultCooldown = 2 * time.Second

// Event is the payload delivered to the collaborator webhook.
type Event struct {
	Detections    []iface.Detection `json:"detections"`
	AvgConfidence float64           `json:"avgConfidence"`
	Source        string            `json:"source"`
	Timestamp     int64             `json:"timestamp"`
}

// Notifier pushes cooldown-gated pothole alerts to an HTTP collaborator.
// With an empty URL it is permanently disabled and every Notify is a no-op.
type Notifier struct {
	client   *resty.Client
	url      string
	cooldown time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

// NewNotifier builds a notifier for the given webhook URL. cooldown <= 0
// selects DefaultCooldown.
func NewNotifier(url string, cooldown time.Duration) *Notifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Notifier{
		client:   resty.New().SetTimeout(requestTimeout),
		url:      url,
		cooldown: cooldown,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// Notify sends one alert unless the notifier is disabled, the detection
// list is empty, or the cooldown window since the last alert has not
// elapsed. It reports whether an alert was dispatched. Delivery happens on
// a background goroutine so a slow collaborator never stalls detection.
func (n *Notifier) Notify(source string, dets []iface.Detection) bool {
	if !n.Enabled() || len(dets) == 0 {
		return false
	}

	n.mu.Lock()
	now := time.Now()
	if now.Sub(n.lastSent) < n.cooldown {
		n.mu.Unlock()
		return false
	}
	n.lastSent = now
	n.mu.Unlock()

	sum := 0.0
	for _, d := range dets {
		sum += d.Conf
	}
	event := Event{
		Detections:    dets,
		AvgConfidence: sum / float64(len(dets)),
		Source:        source,
		Timestamp:     now.Unix(),
	}

	go n.send(event)
	return true
}

func (n *Notifier) send(event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error(fmt.Sprintf("alert send panic recovered: %v", r))
		}
	}()

	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(n.url)
	if err != nil {
		logger.Log().Error(fmt.Sprintf("alert request error: %v", err))
		return
	}
	if resp.IsError() {
		logger.Log().Error(fmt.Sprintf("alert endpoint returned error: %s, body: %s",
			resp.Status(), resp.String()))
		return
	}
	monitor.AlertTotal.Inc()
}
