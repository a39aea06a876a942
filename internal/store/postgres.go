package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/DukeRupert/notebookdir/internal/domain"
	"github.com/DukeRupert/notebookdir/internal/repository"
	"github.com/DukeRupert/notebookdir/internal/worker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"
)

// Postgres implements Store on top of the repository queries.
type Postgres struct {
	queries              *repository.Queries
	deadLetterMaxAttempt int32
}

// NewPostgres creates a Postgres store. deadLetterAttempts bounds how often the
// worker retries a dead-lettered event before parking it.
func NewPostgres(queries *repository.Queries, deadLetterAttempts int32) *Postgres {
	if deadLetterAttempts < 1 {
		deadLetterAttempts = 5
	}
	return &Postgres{
		queries:              queries,
		deadLetterMaxAttempt: deadLetterAttempts,
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

func (s *Postgres) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	const op = "store.get_subscription"

	row, err := s.queries.GetSubscription(ctx, userID)
	if err != nil {
		return nil, classify(err, op, "subscription", userID)
	}
	return toDomainSubscription(row), nil
}

func (s *Postgres) FindByStripeSubscription(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	const op = "store.find_by_stripe_subscription"

	row, err := s.queries.GetSubscriptionByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, classify(err, op, "subscription", stripeSubscriptionID)
	}
	return toDomainSubscription(row), nil
}

func (s *Postgres) FindUserByStripeCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	const op = "store.find_user_by_stripe_customer"

	row, err := s.queries.GetSubscriptionByStripeCustomerID(ctx, stripeCustomerID)
	if err == nil {
		return row.UserID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", classify(err, op, "customer", stripeCustomerID)
	}

	profile, err := s.queries.GetProfileByStripeCustomerID(ctx, stripeCustomerID)
	if err != nil {
		return "", classify(err, op, "customer", stripeCustomerID)
	}
	return profile.UserID, nil
}

func (s *Postgres) UpsertSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	const op = "store.upsert_subscription"

	params := repository.UpsertSubscriptionParams{
		UserID:               sub.UserID,
		PlanID:               string(sub.PlanID),
		Status:               string(sub.Status),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		StripeCustomerID:     nullString(sub.StripeCustomerID),
		StripeSubscriptionID: nullString(sub.StripeSubscriptionID),
		LastEventID:          nullString(sub.LastEventID),
	}
	if sub.LastEventAt != nil {
		params.LastEventAt = sql.NullTime{Time: *sub.LastEventAt, Valid: true}
	}

	row, err := s.queries.UpsertSubscription(ctx, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.StaleEvent(op, sub.LastEventID)
		}
		return nil, classify(err, op, "subscription", sub.UserID)
	}
	return toDomainSubscription(row), nil
}

func (s *Postgres) SetCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*domain.Subscription, error) {
	const op = "store.set_cancel_at_period_end"

	row, err := s.queries.SetCancelAtPeriodEnd(ctx, repository.SetCancelAtPeriodEndParams{
		UserID:            userID,
		CancelAtPeriodEnd: cancel,
	})
	if err != nil {
		return nil, classify(err, op, "subscription", userID)
	}
	return toDomainSubscription(row), nil
}

func (s *Postgres) UpdateProfileTier(ctx context.Context, userID string, plan domain.PlanID, stripeCustomerID string) error {
	const op = "store.update_profile_tier"

	err := s.queries.UpsertProfileTier(ctx, repository.UpsertProfileTierParams{
		UserID:           userID,
		SubscriptionTier: string(plan),
		StripeCustomerID: nullString(stripeCustomerID),
	})
	if err != nil {
		return classify(err, op, "profile", userID)
	}
	return nil
}

// =============================================================================
// Usage
// =============================================================================

func (s *Postgres) RecordUsage(ctx context.Context, event domain.UsageEvent) error {
	const op = "store.record_usage"

	var metadata pqtype.NullRawMessage
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return domain.Invalid(op, "metadata is not valid JSON")
		}
		metadata = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	err := s.queries.InsertUsageEvent(ctx, repository.InsertUsageEventParams{
		ID:           id,
		UserID:       event.UserID,
		ActivityType: string(event.Action),
		Metadata:     metadata,
		IpAddress:    nullString(event.IPAddress),
		UserAgent:    nullString(event.UserAgent),
	})
	if err != nil {
		return classify(err, op, "usage event", event.UserID)
	}
	return nil
}

func (s *Postgres) CountUsage(ctx context.Context, userID string, action domain.Action, since time.Time) (int64, error) {
	const op = "store.count_usage"

	count, err := s.queries.CountUsageEvents(ctx, repository.CountUsageEventsParams{
		UserID:       userID,
		ActivityType: string(action),
		Since:        since,
	})
	if err != nil {
		return 0, classify(err, op, "usage", userID)
	}
	return count, nil
}

func (s *Postgres) CountUsageByAction(ctx context.Context, userID string, since time.Time) (map[domain.Action]int64, error) {
	const op = "store.count_usage_by_action"

	types := make([]string, len(domain.Actions))
	for i, a := range domain.Actions {
		types[i] = string(a)
	}

	rows, err := s.queries.CountUsageEventsByType(ctx, repository.CountUsageEventsByTypeParams{
		UserID:        userID,
		Since:         since,
		ActivityTypes: types,
	})
	if err != nil {
		return nil, classify(err, op, "usage", userID)
	}

	counts := make(map[domain.Action]int64, len(domain.Actions))
	for _, r := range rows {
		counts[domain.Action(r.ActivityType)] = r.Count
	}
	return counts, nil
}

// =============================================================================
// Webhook events, payments, dead letters
// =============================================================================

func (s *Postgres) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	const op = "store.is_event_processed"

	exists, err := s.queries.ProcessedWebhookEventExists(ctx, eventID)
	if err != nil {
		return false, classify(err, op, "event", eventID)
	}
	return exists, nil
}

func (s *Postgres) MarkEventProcessed(ctx context.Context, eventID, eventType string, eventAt time.Time) error {
	const op = "store.mark_event_processed"

	err := s.queries.InsertProcessedWebhookEvent(ctx, repository.InsertProcessedWebhookEventParams{
		EventID:   eventID,
		EventType: eventType,
		EventAt:   eventAt,
	})
	if err != nil {
		return classify(err, op, "event", eventID)
	}
	return nil
}

func (s *Postgres) RecordPayment(ctx context.Context, payment domain.Payment) error {
	const op = "store.record_payment"

	id := payment.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	err := s.queries.UpsertPayment(ctx, repository.UpsertPaymentParams{
		ID:                   id,
		UserID:               payment.UserID,
		ProviderObjectID:     payment.ProviderObjectID,
		StripeSubscriptionID: nullString(payment.StripeSubscriptionID),
		AmountCents:          payment.AmountCents,
		Currency:             domain.NormalizeCurrency(payment.Currency),
		Status:               string(payment.Status),
		CreatedAt:            sql.NullTime{Time: payment.CreatedAt, Valid: !payment.CreatedAt.IsZero()},
	})
	if err != nil {
		return classify(err, op, "payment", payment.ProviderObjectID)
	}
	return nil
}

func (s *Postgres) ListPayments(ctx context.Context, userID string, limit int) ([]domain.Payment, error) {
	const op = "store.list_payments"

	rows, err := s.queries.ListPaymentsByUser(ctx, repository.ListPaymentsByUserParams{
		UserID: userID,
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, classify(err, op, "payments", userID)
	}

	payments := make([]domain.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, domain.Payment{
			ID:                   r.ID,
			UserID:               r.UserID,
			ProviderObjectID:     r.ProviderObjectID,
			StripeSubscriptionID: r.StripeSubscriptionID.String,
			AmountCents:          r.AmountCents,
			Currency:             r.Currency,
			Status:               domain.PaymentStatus(r.Status),
			CreatedAt:            r.CreatedAt,
		})
	}
	return payments, nil
}

func (s *Postgres) EnqueueDeadLetter(ctx context.Context, dl DeadLetterEvent) error {
	const op = "store.enqueue_dead_letter"

	_, err := worker.EnqueueJob(ctx, s.queries, worker.JobTypeReconcileWebhookEvent, dl,
		worker.WithMaxAttempts(s.deadLetterMaxAttempt),
		worker.WithDelay(time.Minute),
	)
	if err != nil {
		return classify(err, op, "dead letter", dl.EventID)
	}
	return nil
}

func (s *Postgres) ListDeadLetters(ctx context.Context, status string, limit int) ([]domain.DeadLetter, error) {
	const op = "store.list_dead_letters"

	jobs, err := s.queries.ListJobsByTypeAndStatus(ctx, repository.ListJobsByTypeAndStatusParams{
		JobType: worker.JobTypeReconcileWebhookEvent,
		Status:  status,
		Limit:   int32(limit),
	})
	if err != nil {
		return nil, classify(err, op, "dead letters", status)
	}

	out := make([]domain.DeadLetter, 0, len(jobs))
	for _, j := range jobs {
		dl := domain.DeadLetter{
			ID:          j.ID,
			Status:      j.Status,
			Attempts:    j.Attempts,
			MaxAttempts: j.MaxAttempts,
			LastError:   j.ErrorMessage.String,
			CreatedAt:   j.CreatedAt,
		}
		var payload DeadLetterEvent
		if err := json.Unmarshal(j.Payload, &payload); err != nil {
			// Still listed so the job can be inspected and discarded.
			dl.LastError = joinErrorText("payload could not be decoded: "+err.Error(), dl.LastError)
		} else {
			dl.EventID = payload.EventID
			dl.EventType = payload.EventType
			dl.Reason = payload.Reason
		}
		out = append(out, dl)
	}
	return out, nil
}

func (s *Postgres) RequeueDeadLetter(ctx context.Context, id uuid.UUID) error {
	const op = "store.requeue_dead_letter"

	if _, err := s.queries.RequeueFailedJob(ctx, id); err != nil {
		return classify(err, op, "failed dead letter", id.String())
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func joinErrorText(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + "; " + rest
}

// classify maps a database error onto the domain taxonomy. Errors reported by
// the server itself are internal; everything else means the store could not
// be reached.
func classify(err error, op, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(op, resource, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return domain.Internal(err, op, "database error: "+pgErr.Code)
	}
	return domain.StoreUnavailable(err, op)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toDomainSubscription(r repository.Subscription) *domain.Subscription {
	sub := &domain.Subscription{
		UserID:               r.UserID,
		PlanID:               domain.PlanID(r.PlanID),
		Status:               domain.SubscriptionStatus(r.Status),
		CurrentPeriodStart:   r.CurrentPeriodStart,
		CurrentPeriodEnd:     r.CurrentPeriodEnd,
		CancelAtPeriodEnd:    r.CancelAtPeriodEnd,
		StripeCustomerID:     r.StripeCustomerID.String,
		StripeSubscriptionID: r.StripeSubscriptionID.String,
		LastEventID:          r.LastEventID.String,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
		Source:               domain.SourceStore,
	}
	if r.LastEventAt.Valid {
		at := r.LastEventAt.Time
		sub.LastEventAt = &at
	}
	return sub
}
