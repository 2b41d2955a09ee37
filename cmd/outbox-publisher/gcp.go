package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type topicSource interface {
	Publisher(topic string) *gcppubsub.Publisher
}

// gcpPublishers adapts the shared Pub/Sub client to publisherFactory.
func gcpPublishers(src topicSource) publisherFactory {
	return func(topic string) publisher {
		pub := src.Publisher(topic)
		if pub == nil {
			return nil
		}
		return gcpPublisher{pub: pub}
	}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.pub.Publish(ctx, msg)
}

func (p gcpPublisher) ResumePublish(orderingKey string) {
	p.pub.ResumePublish(orderingKey)
}
