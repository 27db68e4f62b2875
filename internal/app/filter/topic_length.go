package filter

import (
	"context"
	"unicode/utf8"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/domain/participant"
)

// TopicLengthConfig represents the configuration for TopicLengthFilter.
type TopicLengthConfig struct {
	MaxRunes int `yaml:"max_runes" mapstructure:"max_runes" default:"140" validate:"gte=1,lte=10000"`
}

// TopicLengthFilter rejects entries whose topic is longer than allowed.
type TopicLengthFilter struct {
	config *TopicLengthConfig
}

// NewTopicLengthFilter creates a new topic length filter.
func NewTopicLengthFilter() *TopicLengthFilter {
	return &TopicLengthFilter{}
}

func (f *TopicLengthFilter) Name() string {
	return "topic_length_filter"
}

func (f *TopicLengthFilter) Description() string {
	return "Checks that the topic does not exceed the configured length"
}

func (f *TopicLengthFilter) ReturnCodes() []string {
	return []string{"topic_too_long"}
}

func (f *TopicLengthFilter) ValidateConfig(settings map[string]any) error {
	var config TopicLengthConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("topic length filter config: %+v", config)
	return nil
}

func (f *TopicLengthFilter) AppliesTo(participant.Role) bool {
	return true
}

func (f *TopicLengthFilter) Check(_ context.Context, req EntryRequest, _ Requester) Result {
	if f.config == nil {
		return Accept()
	}
	if utf8.RuneCountInString(req.Topic) > f.config.MaxRunes {
		return Reject("topic_too_long")
	}
	return Accept()
}

func init() {
	Register("topic_length_filter", func() Filter {
		return NewTopicLengthFilter()
	})
}
