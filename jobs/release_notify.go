package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
	"github.com/odyssey-erp/p2p/internal/procurement"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

const (
	idempotencyModule = "release_notification"
	releaseTimeout    = 30 * time.Second
)

// OrderSource loads the purchase order being announced.
type OrderSource interface {
	GetOrder(ctx context.Context, number string) (procurement.PurchaseOrder, error)
}

// TypeSource resolves purchase type names.
type TypeSource interface {
	PurchaseTypes(ctx context.Context, isActive *bool) ([]reference.PurchaseType, error)
	PurchaseSubTypes(ctx context.Context, typeID int64, isActive *bool) ([]reference.PurchaseSubType, error)
}

// StatusLabeler renders a status for humans.
type StatusLabeler interface {
	Label(status workflow.Status) string
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Deduper records processed effect keys.
type Deduper interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ReleaseNotifier consumes TaskReleaseNotification.
type ReleaseNotifier struct {
	Orders     OrderSource
	Types      TypeSource
	Labels     StatusLabeler
	Mailer     Mailer
	Dedupe     Deduper
	Recipients []string
	Language   language.Tag
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

var releaseTemplate = template.Must(template.New("release").Parse(`Purchase order {{.PONumber}} has been released.

Type:        {{.Type}}{{if .SubType}} / {{.SubType}}{{end}}
Vendor:      {{.VendorName}} ({{.VendorCode}})
Contract:    {{.ContractNumber}}
Amount:      {{.Amount}}
Status:      {{.Status}}
{{- if .Remark}}
Remarks:     {{.Remark}}
{{- end}}
`))

// releaseView is the data rendered into the notice.
type releaseView struct {
	PONumber       string
	Type           string
	SubType        string
	VendorName     string
	VendorCode     string
	ContractNumber string
	Amount         string
	Status         string
	Remark         string
}

// Handle renders and mails the notice. Redelivered keys are skipped; the final
// failed attempt is logged and dropped.
func (n *ReleaseNotifier) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReleaseNotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PONumber == "" || payload.Key == "" {
		return fmt.Errorf("release notification: bad payload: %w", asynq.SkipRetry)
	}
	logger := n.logger().With(slog.String("po", payload.PONumber), slog.String("key", payload.Key))
	tracker := n.Metrics.Track(TaskReleaseNotification)

	if n.Dedupe != nil {
		err := n.Dedupe.CheckAndInsert(ctx, payload.Key, idempotencyModule)
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			logger.Info("release notification already sent")
			n.Metrics.Notification("duplicate")
			return tracker.End(nil)
		}
		if err != nil {
			return tracker.End(fmt.Errorf("release notification: dedupe: %w", err))
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	err := n.deliver(sendCtx, payload)
	cancel()
	if err == nil {
		logger.Info("release notification sent")
		n.Metrics.Notification("sent")
		return tracker.End(nil)
	}
	if n.Dedupe != nil {
		if derr := n.Dedupe.Delete(ctx, payload.Key); derr != nil {
			logger.Warn("release notification: release dedupe key", slog.Any("error", derr))
		}
	}
	if errors.Is(err, shared.ErrNotFound) {
		logger.Error("release notification dropped", slog.Any("error", err))
		n.Metrics.Notification("dropped")
		tracker.End(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if finalAttempt(ctx) {
		logger.Error("release notification dropped after retries", slog.Any("error", err))
		n.Metrics.Notification("dropped")
		tracker.End(err)
		return nil
	}
	logger.Warn("release notification failed, will retry", slog.Any("error", err))
	return tracker.End(fmt.Errorf("%w: %v", shared.ErrDependencyFailure, err))
}

func (n *ReleaseNotifier) deliver(ctx context.Context, payload ReleaseNotificationPayload) error {
	po, err := n.Orders.GetOrder(ctx, payload.PONumber)
	if err != nil {
		return err
	}
	to := recipients(po.VendorEmail, n.Recipients)
	if len(to) == 0 {
		return fmt.Errorf("release notification: no recipients for %s: %w", po.Number, shared.ErrConfigurationMissing)
	}
	body, err := n.Render(ctx, po, payload.Remark)
	if err != nil {
		return err
	}
	return n.Mailer.Send(ctx, Message{
		To:      to,
		Subject: "Purchase order " + po.Number + " released",
		Body:    body,
	})
}

// Render produces the notice body for a purchase order.
func (n *ReleaseNotifier) Render(ctx context.Context, po procurement.PurchaseOrder, remark string) (string, error) {
	view := releaseView{
		PONumber:       po.Number,
		VendorName:     po.VendorName,
		VendorCode:     po.VendorCode,
		ContractNumber: po.ContractNumber,
		Amount:         FormatAmount(n.lang(), po.Currency, po.Total),
		Status:         string(po.Status),
		Remark:         strings.TrimSpace(remark),
	}
	if n.Labels != nil {
		view.Status = n.Labels.Label(po.Status)
	}
	view.Type, view.SubType = n.typeNames(ctx, po.PurchaseTypeID, po.PurchaseSubTypeID)
	var buf bytes.Buffer
	if err := releaseTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("release notification: render: %w", err)
	}
	return buf.String(), nil
}

func (n *ReleaseNotifier) typeNames(ctx context.Context, typeID, subTypeID int64) (string, string) {
	typeName := fmt.Sprintf("#%d", typeID)
	subName := ""
	if subTypeID > 0 {
		subName = fmt.Sprintf("#%d", subTypeID)
	}
	if n.Types == nil {
		return typeName, subName
	}
	types, err := n.Types.PurchaseTypes(ctx, nil)
	if err != nil {
		n.logger().Warn("release notification: purchase types", slog.Any("error", err))
		return typeName, subName
	}
	for _, t := range types {
		if t.ID == typeID {
			typeName = t.Name
		}
	}
	if subTypeID <= 0 {
		return typeName, subName
	}
	subs, err := n.Types.PurchaseSubTypes(ctx, typeID, nil)
	if err != nil {
		n.logger().Warn("release notification: purchase sub types", slog.Any("error", err))
		return typeName, subName
	}
	for _, s := range subs {
		if s.ID == subTypeID {
			subName = s.Name
		}
	}
	return typeName, subName
}

func (n *ReleaseNotifier) lang() language.Tag {
	if n.Language == language.Und {
		return language.Indonesian
	}
	return n.Language
}

func (n *ReleaseNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger.With(slog.String("job", TaskReleaseNotification))
	}
	return slog.Default().With(slog.String("job", TaskReleaseNotification))
}

// FormatAmount renders an amount with the currency symbol and the digit
// grouping of the given language.
func FormatAmount(tag language.Tag, code string, amount decimal.Decimal) string {
	p := message.NewPrinter(tag)
	unit, err := currency.ParseISO(code)
	if err != nil {
		return p.Sprintf("%s %v", code, number.Decimal(amount.InexactFloat64(), number.Scale(2)))
	}
	scale, _ := currency.Standard.Rounding(unit)
	return p.Sprintf("%v %v", currency.Symbol(unit), number.Decimal(amount.InexactFloat64(), number.Scale(scale)))
}

func recipients(vendor string, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, addr := range append([]string{vendor}, extra...) {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[strings.ToLower(addr)] {
			continue
		}
		seen[strings.ToLower(addr)] = true
		out = append(out, addr)
	}
	return out
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}
