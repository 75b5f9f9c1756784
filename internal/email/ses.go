package email

import (
	"context"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// sesAPI is the subset of the SES v2 client used here.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, in *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SESSender sends through AWS SES v2.
type SESSender struct {
	client sesAPI
}

// NewSESSender creates an SES sender. The SDK client is only built when
// static credentials are provided.
func NewSESSender(cfg config.SESConfig) *SESSender {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	sender := &SESSender{}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
		if err != nil {
			logger.Warn("[SES] failed to initialize AWS config", "error", err.Error())
		} else {
			sender.client = sesv2.NewFromConfig(awsCfg)
		}
	}
	return sender
}

func (s *SESSender) Name() string       { return "ses" }
func (s *SESSender) IsConfigured() bool { return s.client != nil }

// Send delivers a single email through SES.
func (s *SESSender) Send(ctx context.Context, msg Template) Result {
	if !s.IsConfigured() {
		return notConfigured(s.Name())
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: sesTags(msg),
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return failure(s.Name(), "SES send failed: %v", err)
	}

	messageID := aws.ToString(out.MessageId)
	logger.Info("[SES] sent", "recipient", msg.To, "message_id", messageID)
	return Result{Success: true, MessageID: messageID, Provider: s.Name()}
}

// TestConnection reads the account sending status.
func (s *SESSender) TestConnection(ctx context.Context) bool {
	if !s.IsConfigured() {
		return false
	}
	out, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		logger.Warn("provider connection test failed", "provider", s.Name(), "error", err.Error())
		return false
	}
	return out.SendingEnabled
}

var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sesTags maps tags and metadata onto SES message tags, whose names and
// values only allow [A-Za-z0-9_-].
func sesTags(msg Template) []types.MessageTag {
	var tags []types.MessageTag
	for _, t := range msg.Tags {
		tags = append(tags, types.MessageTag{
			Name:  aws.String(sesTagUnsafe.ReplaceAllString(t, "_")),
			Value: aws.String("true"),
		})
	}
	for k, v := range msg.Metadata {
		tags = append(tags, types.MessageTag{
			Name:  aws.String(sesTagUnsafe.ReplaceAllString(k, "_")),
			Value: aws.String(sesTagUnsafe.ReplaceAllString(v, "_")),
		})
	}
	return tags
}
