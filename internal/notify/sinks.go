package notify

import (
	"context"

	"KHunter/internal/domain/models"
	httpclient "KHunter/pkg/http"
	"KHunter/pkg/kafka"
)

// KafkaSink publishes notifications to a topic keyed by level, feeding
// downstream alert routing.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Send(ctx context.Context, n models.Notification) error {
	return s.producer.Publish(ctx, s.topic, []byte(n.Level), n)
}

// WebhookSink posts notifications as embeds to a chat webhook.
type WebhookSink struct {
	client *httpclient.Client
	url    string
}

func NewWebhookSink(client *httpclient.Client, url string) *WebhookSink {
	return &WebhookSink{client: client, url: url}
}

type webhookEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

func embedColor(level models.NotificationLevel) int {
	switch level {
	case models.NotifyError:
		return 0xe74c3c
	case models.NotifyWarn:
		return 0xf1c40f
	default:
		return 0x2ecc71
	}
}

func (s *WebhookSink) Send(ctx context.Context, n models.Notification) error {
	payload := webhookPayload{
		Embeds: []webhookEmbed{{
			Title:       n.Title,
			Description: n.Body,
			Color:       embedColor(n.Level),
		}},
	}
	return s.client.SendAndParse(ctx, &httpclient.RequestOptions{
		Method: httpclient.MethodPost,
		URL:    s.url,
		Body:   payload,
	}, nil)
}
