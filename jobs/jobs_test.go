package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	jobmetrics "github.com/odyssey-erp/p2p/internal/jobs"
	"github.com/odyssey-erp/p2p/internal/procurement"
	"github.com/odyssey-erp/p2p/internal/reference"
	"github.com/odyssey-erp/p2p/internal/shared"
	"github.com/odyssey-erp/p2p/internal/workflow"
)

func releaseEffect() workflow.Effect {
	return workflow.Effect{
		ID: 1, Type: workflow.EffectSendReleaseNotification, Kind: workflow.KindPO,
		Number: "PO-9", Sequence: 7, ActorID: 21, Remarks: "ship before June",
	}
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	ids   map[string]bool
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if f.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			f.ids[id] = true
		}
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestTaskIDIsDeterministicPerEffect(t *testing.T) {
	e := releaseEffect()
	require.Equal(t, TaskID(e.Key()), TaskID(e.Key()))

	other := e
	other.Sequence = 8
	require.NotEqual(t, TaskID(e.Key()), TaskID(other.Key()))
}

func TestDispatchTreatsRedeliveryAsSuccess(t *testing.T) {
	fake := &fakeEnqueuer{ids: map[string]bool{}}
	client := &Client{client: fake, maxRetry: 4}
	ctx := context.Background()

	require.NoError(t, client.Dispatch(ctx, releaseEffect()))
	require.NoError(t, client.Dispatch(ctx, releaseEffect()))
	require.Len(t, fake.tasks, 1)
	require.Equal(t, TaskReleaseNotification, fake.tasks[0].Type())
	require.Len(t, fake.opts[0], 3)

	var payload ReleaseNotificationPayload
	require.NoError(t, json.Unmarshal(fake.tasks[0].Payload(), &payload))
	require.Equal(t, "PO-9", payload.PONumber)
	require.Equal(t, "ship before June", payload.Remark)
	require.Equal(t, releaseEffect().Key(), payload.Key)

	fake.err = errors.New("redis down")
	next := releaseEffect()
	next.Sequence = 9
	require.Error(t, client.Dispatch(ctx, next))

	require.Error(t, client.Dispatch(ctx, workflow.Effect{Type: "unknown", Kind: workflow.KindPO, Number: "PO-9"}))
}

type stubOrders map[string]procurement.PurchaseOrder

func (s stubOrders) GetOrder(_ context.Context, number string) (procurement.PurchaseOrder, error) {
	po, ok := s[number]
	if !ok {
		return procurement.PurchaseOrder{}, shared.ErrNotFound
	}
	return po, nil
}

type stubTypes struct{}

func (stubTypes) PurchaseTypes(context.Context, *bool) ([]reference.PurchaseType, error) {
	return []reference.PurchaseType{{ID: 1, Code: "GDS", Name: "Goods"}}, nil
}

func (stubTypes) PurchaseSubTypes(context.Context, int64, *bool) ([]reference.PurchaseSubType, error) {
	return []reference.PurchaseSubType{{ID: 2, TypeID: 1, Code: "IT", Name: "IT Hardware"}}, nil
}

type stubLabels struct{}

func (stubLabels) Label(s workflow.Status) string {
	if s == workflow.POReleased {
		return "Released"
	}
	return string(s)
}

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type memoryDedupe struct {
	keys map[string]bool
}

func (d *memoryDedupe) CheckAndInsert(_ context.Context, key, _ string) error {
	if d.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	d.keys[key] = true
	return nil
}

func (d *memoryDedupe) Delete(_ context.Context, key string) error {
	delete(d.keys, key)
	return nil
}

func newNotifier(mailer *recordingMailer) (*ReleaseNotifier, *memoryDedupe) {
	dedupe := &memoryDedupe{keys: map[string]bool{}}
	return &ReleaseNotifier{
		Orders: stubOrders{"PO-9": {
			Number: "PO-9", PurchaseTypeID: 1, PurchaseSubTypeID: 2,
			VendorCode: "V-01", VendorName: "PT Sumber Makmur", VendorEmail: "sales@sumber.example",
			ContractNumber: "CTR-007", Currency: "IDR", Total: decimal.RequireFromString("1250002.5"),
			Status: workflow.POReleased,
		}},
		Types:      stubTypes{},
		Labels:     stubLabels{},
		Mailer:     mailer,
		Dedupe:     dedupe,
		Recipients: []string{"procurement@odyssey.example", "SALES@sumber.example"},
		Language:   language.English,
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}, dedupe
}

func releaseTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewReleaseNotificationTask(releaseEffect())
	require.NoError(t, err)
	return task
}

func TestReleaseNotifierSendsOnce(t *testing.T) {
	mailer := &recordingMailer{}
	n, _ := newNotifier(mailer)
	ctx := context.Background()

	require.NoError(t, n.Handle(ctx, releaseTask(t)))
	require.NoError(t, n.Handle(ctx, releaseTask(t)))
	require.Len(t, mailer.sent, 1)

	msg := mailer.sent[0]
	require.Equal(t, []string{"sales@sumber.example", "procurement@odyssey.example"}, msg.To)
	require.Equal(t, "Purchase order PO-9 released", msg.Subject)
	require.Contains(t, msg.Body, "Goods / IT Hardware")
	require.Contains(t, msg.Body, "PT Sumber Makmur (V-01)")
	require.Contains(t, msg.Body, "1,250,002.50")
	require.Contains(t, msg.Body, "Status:      Released")
	require.Contains(t, msg.Body, "ship before June")
}

func TestReleaseNotifierReleasesKeyForRetry(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("connection refused")}
	n, dedupe := newNotifier(mailer)
	ctx := context.Background()

	err := n.Handle(ctx, releaseTask(t))
	require.ErrorIs(t, err, shared.ErrDependencyFailure)
	require.Empty(t, dedupe.keys)

	mailer.err = nil
	require.NoError(t, n.Handle(ctx, releaseTask(t)))
	require.Len(t, mailer.sent, 1)
}

func TestReleaseNotifierSkipsRetryForUnknownOrderAndBadPayload(t *testing.T) {
	n, _ := newNotifier(&recordingMailer{})
	effect := releaseEffect()
	effect.Number = "PO-404"
	task, err := NewReleaseNotificationTask(effect)
	require.NoError(t, err)

	err = n.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = n.Handle(context.Background(), asynq.NewTask(TaskReleaseNotification, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewReleaseNotificationTaskRejectsOtherEffects(t *testing.T) {
	e := releaseEffect()
	e.Kind = workflow.KindPR
	_, err := NewReleaseNotificationTask(e)
	require.Error(t, err)
}

func TestFormatAmountUsesLocaleGrouping(t *testing.T) {
	require.Contains(t, FormatAmount(language.English, "USD", decimal.RequireFromString("1234.5")), "1,234.50")
	require.Contains(t, FormatAmount(language.Indonesian, "IDR", decimal.RequireFromString("1250002")), "1.250.002")
	require.Contains(t, FormatAmount(language.English, "XXQ", decimal.RequireFromString("10")), "XXQ")
}

type stubRelayer struct {
	limit     int
	delivered int
	err       error
}

func (s *stubRelayer) RelayPending(_ context.Context, limit int) (int, error) {
	s.limit = limit
	return s.delivered, s.err
}

func TestOutboxRelayJob(t *testing.T) {
	relayer := &stubRelayer{delivered: 2}
	job := &OutboxRelayJob{Relayer: relayer}
	task, err := NewOutboxRelayTask(50)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 50, relayer.limit)

	relayer.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	h := &Handler{inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, logger: slog.Default()}
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending":3`)
	require.Contains(t, rec.Body.String(), `"retry":1`)

	h.inspector = stubInspector{err: errors.New("redis down")}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
