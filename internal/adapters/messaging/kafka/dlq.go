package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"policy-billing-engine/internal/core/domain"
)

// Record headers.
const (
	HeaderEventType     = "event_type"
	HeaderErrorType     = "error_type"
	HeaderErrorString   = "error_string"
	HeaderOriginalTopic = "original_topic"
)

// DLQ error types.
const (
	ErrorTypeUnmarshal = "unmarshal_error"
	ErrorTypeInvalid   = "invalid_alert"
	ErrorTypeEventType = "unexpected_event_type"
)

var errMissingField = errors.New("missing required field")

// DLQRecord wraps a record that could not be processed for the dead-letter topic.
func DLQRecord(dlqTopic string, original *kgo.Record, errorType string, cause error) *kgo.Record {
	return &kgo.Record{
		Topic: dlqTopic,
		Key:   original.Key,
		Value: original.Value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderErrorType, Value: []byte(errorType)},
			{Key: HeaderErrorString, Value: []byte(cause.Error())},
			{Key: HeaderOriginalTopic, Value: []byte(original.Topic)},
		},
	}
}

// ErrorHeaders extracts error_type and error_string, "N/A" when absent.
func ErrorHeaders(headers []kgo.RecordHeader) (string, string) {
	errorType, errorString := "N/A", "N/A"
	for _, h := range headers {
		switch h.Key {
		case HeaderErrorType:
			errorType = string(h.Value)
		case HeaderErrorString:
			errorString = string(h.Value)
		}
	}
	return errorType, errorString
}

func header(r *kgo.Record, key string) (string, bool) {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// ParsePartitionOffset parses "partition:offset", e.g. "0:123".
func ParsePartitionOffset(arg string) (int32, int64, error) {
	partStr, offStr, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid format %q, expected partition:offset, e.g. 0:123", arg)
	}
	partition, err := strconv.ParseInt(partStr, 10, 32)
	if err != nil || partition < 0 {
		return 0, 0, fmt.Errorf("invalid partition %q", partStr)
	}
	offset, err := strconv.ParseInt(offStr, 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset %q", offStr)
	}
	return int32(partition), offset, nil
}

// RejectedRecord is a record the alert sink routes to the DLQ.
type RejectedRecord struct {
	Record    *kgo.Record
	ErrorType string
	Err       error
}

// DecodeFraudAlert decodes a fraud.alert record value.
func DecodeFraudAlert(r *kgo.Record) (domain.FraudAlert, string, error) {
	var alert domain.FraudAlert
	if et, ok := header(r, HeaderEventType); ok && et != EventFraudAlert {
		return alert, ErrorTypeEventType, fmt.Errorf("event type %q", et)
	}
	if err := json.Unmarshal(r.Value, &alert); err != nil {
		return alert, ErrorTypeUnmarshal, err
	}
	switch {
	case alert.ID == "":
		return alert, ErrorTypeInvalid, fmt.Errorf("%w: alert_id", errMissingField)
	case alert.CustomerID == "":
		return alert, ErrorTypeInvalid, fmt.Errorf("%w: customer_id", errMissingField)
	case alert.RuleTriggered == "":
		return alert, ErrorTypeInvalid, fmt.Errorf("%w: rule_triggered", errMissingField)
	case alert.Severity.Rank() == 0:
		return alert, ErrorTypeInvalid, fmt.Errorf("unknown severity %q", alert.Severity)
	}
	return alert, "", nil
}

// SplitAlertRecords decodes a fetched batch into alerts to store and records to dead-letter.
func SplitAlertRecords(records []*kgo.Record) ([]domain.FraudAlert, []RejectedRecord) {
	var alerts []domain.FraudAlert
	var rejected []RejectedRecord
	for _, r := range records {
		alert, errorType, err := DecodeFraudAlert(r)
		if err != nil {
			rejected = append(rejected, RejectedRecord{Record: r, ErrorType: errorType, Err: err})
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, rejected
}
