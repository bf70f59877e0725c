// internal/notify/notifier.go

// Package notify reports completed disbursement batches to the operations
// team, by SES email and, for degraded batches, an SNS text message.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"lending-queue/internal/common/config"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/queue/payout"
)

// EmailSender is the slice of the SES client the notifier needs.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// SMSPublisher is the slice of the SNS client the notifier needs.
type SMSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type Notifier struct {
	config config.NotificationConfig
	email  EmailSender
	sms    SMSPublisher
	logger logger.Logger
}

func New(cfg config.NotificationConfig, email EmailSender, sms SMSPublisher, log logger.Logger) *Notifier {
	return &Notifier{
		config: cfg,
		email:  email,
		sms:    sms,
		logger: log,
	}
}

// BatchCompleted reports result to operations. Delivery failures are logged
// and swallowed: a notification must never fail a finished batch.
func (n *Notifier) BatchCompleted(ctx context.Context, result payout.BatchResult) {
	if !n.config.Enabled {
		return
	}

	classification := result.Classification()

	if n.email != nil {
		if err := n.sendEmail(ctx, result, classification); err != nil {
			n.logger.WithError(err).Error("batch summary email failed", map[string]interface{}{
				"batchId": result.BatchID,
			})
		}
	}

	// Texts are reserved for batches that need a human.
	if n.sms != nil && classification != "success" {
		if err := n.sendSMS(ctx, result, classification); err != nil {
			n.logger.WithError(err).Error("batch summary sms failed", map[string]interface{}{
				"batchId": result.BatchID,
			})
		}
	}
}

func (n *Notifier) sendEmail(ctx context.Context, result payout.BatchResult, classification string) error {
	subject := fmt.Sprintf("Disbursement batch %s: %s (%d ok, %d failed)",
		result.BatchID, classification, len(result.Success), len(result.Failed))

	input := &ses.SendEmailInput{
		Source: aws.String(n.config.FromAddress),
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.config.OpsAddress},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(buildEmailBody(result))},
			},
		},
	}

	out, err := n.email.SendEmail(ctx, input)
	if err != nil {
		return err
	}

	n.logger.Info("batch summary email sent", map[string]interface{}{
		"batchId":   result.BatchID,
		"messageId": aws.ToString(out.MessageId),
		"to":        n.config.OpsAddress,
	})
	return nil
}

func (n *Notifier) sendSMS(ctx context.Context, result payout.BatchResult, classification string) error {
	message := fmt.Sprintf("Disbursement batch %s finished %s: %d succeeded, %d failed. Check the queue dashboard.",
		result.BatchID, classification, len(result.Success), len(result.Failed))

	out, err := n.sms.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(n.config.OpsSMSNumber),
		Message:     aws.String(message),
	})
	if err != nil {
		return err
	}

	n.logger.Info("batch summary sms sent", map[string]interface{}{
		"batchId":   result.BatchID,
		"messageId": aws.ToString(out.MessageId),
	})
	return nil
}

func buildEmailBody(result payout.BatchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Batch %s\n", result.BatchID)
	fmt.Fprintf(&b, "Started:   %s\n", result.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Completed: %s\n", result.CompletedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Succeeded: %d\n", len(result.Success))
	fmt.Fprintf(&b, "Failed:    %d\n", len(result.Failed))

	if len(result.Failed) > 0 {
		b.WriteString("\nFailed applications:\n")
		for _, item := range result.Failed {
			fmt.Fprintf(&b, "  %s: %s\n", item.ID, item.Error)
		}
	}
	return b.String()
}
