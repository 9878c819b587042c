package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/AssistantHub/internal/config"
	"github.com/digkill/AssistantHub/internal/models"
	"github.com/digkill/AssistantHub/internal/notify"
	"github.com/digkill/AssistantHub/internal/pricing"
	"github.com/digkill/AssistantHub/internal/thrivecart"
	"github.com/digkill/AssistantHub/pkg/logger"
)

const testSecret = "tc-secret"

func newWebhookService(db *memDB, cfg config.Config) *WebhookService {
	log := logger.Discard()
	accounts := NewAccountService(log, fakeAccounts{db}, fakeLedger{db}, fakeUsage{db})
	return NewWebhookService(cfg, log, accounts, fakeLedger{db}, fakeEvents{db}, pricing.Default(), notify.Nop{})
}

func paymentEvent(name, email, product, order string) thrivecart.Event {
	ev, err := thrivecart.Parse("application/json", []byte(`{
		"event": "`+name+`",
		"product_id": `+product+`,
		"order_id": "`+order+`",
		"thrivecart_secret": "`+testSecret+`",
		"customer": {"email": "`+email+`"}
	}`))
	if err != nil {
		panic(err)
	}
	return ev
}

func TestHandlePaymentGrantsCreditsAndTier(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierFree, "0")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})

	res, err := svc.HandlePayment(context.Background(), paymentEvent("order.success", "Buyer@Example.com", "8", "ord-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	got := db.account(acc.ID)
	assert.Equal(t, models.TierTwo, got.Tier)
	assert.True(t, got.Credits.Equal(decimal.NewFromInt(40000)), got.Credits.String())

	txs := db.transactions(acc.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionPurchase, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(40000)))
	assert.Equal(t, "ord-1", txs[0].Metadata["order_id"])
}

func TestHandlePaymentDuplicateDeliveryIsNoop(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierFree, "0")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})
	ev := paymentEvent("order.success", "buyer@example.com", "7", "ord-2")

	_, err := svc.HandlePayment(context.Background(), ev)
	require.NoError(t, err)
	res, err := svc.HandlePayment(context.Background(), ev)
	require.NoError(t, err)

	assert.True(t, res.Duplicate)
	assert.True(t, db.account(acc.ID).Credits.Equal(decimal.NewFromInt(20000)))
	assert.Len(t, db.transactions(acc.ID), 1)
}

func TestHandlePaymentRenewalWithNewInvoiceGrantsAgain(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierOne, "100")
	svc := newWebhookService(db, config.Config{})

	first := paymentEvent("subscription.charge.success", "buyer@example.com", "7", "ord-3")
	first.InvoiceID = "inv-1"
	second := first
	second.InvoiceID = "inv-2"

	_, err := svc.HandlePayment(context.Background(), first)
	require.NoError(t, err)
	_, err = svc.HandlePayment(context.Background(), second)
	require.NoError(t, err)

	assert.True(t, db.account(acc.ID).Credits.Equal(decimal.NewFromInt(40100)))
}

func TestHandlePaymentRefundFloorsAtZero(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierTwo, "10000")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})

	_, err := svc.HandlePayment(context.Background(), paymentEvent("order.refund", "buyer@example.com", "8", "ord-4"))
	require.NoError(t, err)

	got := db.account(acc.ID)
	assert.True(t, got.Credits.IsZero(), got.Credits.String())
	assert.Equal(t, models.TierFree, got.Tier)
	txs := db.transactions(acc.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionRefund, txs[0].Type)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(-40000)))
}

func TestHandlePaymentCancellationDowngradesOnly(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierTwo, "1234.5")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})

	_, err := svc.HandlePayment(context.Background(), paymentEvent("subscription.cancelled", "buyer@example.com", "8", "ord-5"))
	require.NoError(t, err)

	got := db.account(acc.ID)
	assert.Equal(t, models.TierFree, got.Tier)
	assert.True(t, got.Credits.Equal(decimal.RequireFromString("1234.5")))
	assert.Empty(t, db.transactions(acc.ID))
}

func TestHandlePaymentProvisioning(t *testing.T) {
	t.Run("enabled creates a free account", func(t *testing.T) {
		db := newMemDB()
		svc := newWebhookService(db, config.Config{AutoProvisionOnPayment: true})

		res, err := svc.HandlePayment(context.Background(), paymentEvent("order.success", "new@example.com", "7", "ord-6"))
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", res.Account.Email)
		assert.Equal(t, models.TierOne, res.Account.Tier)
		assert.True(t, res.Account.Credits.Equal(decimal.NewFromInt(20000)))
	})

	t.Run("disabled rejects unknown email", func(t *testing.T) {
		db := newMemDB()
		svc := newWebhookService(db, config.Config{})

		_, err := svc.HandlePayment(context.Background(), paymentEvent("order.success", "new@example.com", "7", "ord-7"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("refund never provisions", func(t *testing.T) {
		db := newMemDB()
		svc := newWebhookService(db, config.Config{AutoProvisionOnPayment: true})

		_, err := svc.HandlePayment(context.Background(), paymentEvent("order.refund", "new@example.com", "7", "ord-8"))
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestHandlePaymentRejections(t *testing.T) {
	db := newMemDB()
	db.addAccount("buyer@example.com", models.TierFree, "0")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})
	ctx := context.Background()

	bad := paymentEvent("order.success", "buyer@example.com", "8", "ord-9")
	bad.Secret = "wrong"
	_, err := svc.HandlePayment(ctx, bad)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.HandlePayment(ctx, paymentEvent("order.success", "buyer@example.com", "999", "ord-10"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.HandlePayment(ctx, paymentEvent("order.success", "", "8", "ord-11"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHandlePaymentIgnoresUnknownEvents(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierFree, "0")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})

	res, err := svc.HandlePayment(context.Background(), paymentEvent("order.abandoned", "buyer@example.com", "8", "ord-12"))
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.True(t, db.account(acc.ID).Credits.IsZero())

	events, err := svc.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.WebhookStatusIgnored, events[0].Status)
	assert.NotContains(t, events[0].RawPayload, testSecret)
}

func TestHandleTopUp(t *testing.T) {
	db := newMemDB()
	acc := db.addAccount("buyer@example.com", models.TierOne, "5")
	svc := newWebhookService(db, config.Config{ThriveCartSecret: testSecret})
	ctx := context.Background()

	res, err := svc.HandleTopUp(ctx, paymentEvent("order.success", "buyer@example.com", "12", "ord-13"))
	require.NoError(t, err)
	assert.True(t, res.Credits.Equal(decimal.NewFromInt(25000)))

	got := db.account(acc.ID)
	assert.Equal(t, models.TierOne, got.Tier)
	assert.True(t, got.Credits.Equal(decimal.NewFromInt(25005)))

	// A redelivered top-up is acknowledged without a second grant.
	_, err = svc.HandleTopUp(ctx, paymentEvent("order.success", "buyer@example.com", "12", "ord-13"))
	require.NoError(t, err)
	assert.True(t, db.account(acc.ID).Credits.Equal(decimal.NewFromInt(25005)))

	_, err = svc.HandleTopUp(ctx, paymentEvent("order.success", "buyer@example.com", "7", "ord-14"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.HandleTopUp(ctx, paymentEvent("order.success", "stranger@example.com", "12", "ord-15"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestHandlePaymentWithoutOrderIDGrantsEachDelivery(t *testing.T) {
	db := newMemDB()
	a := db.addAccount("a@example.com", models.TierFree, "0")
	b := db.addAccount("b@example.com", models.TierFree, "0")
	svc := newWebhookService(db, config.Config{})
	ctx := context.Background()

	unreferenced := func(email string) thrivecart.Event {
		ev, err := thrivecart.Parse("application/json", []byte(`{"event":"order.success","product_id":8,"customer":{"email":"`+email+`"}}`))
		require.NoError(t, err)
		return ev
	}

	res, err := svc.HandlePayment(ctx, unreferenced("a@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	res, err = svc.HandlePayment(ctx, unreferenced("b@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	res, err = svc.HandlePayment(ctx, unreferenced("a@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	assert.True(t, db.account(a.ID).Credits.Equal(decimal.NewFromInt(80000)), db.account(a.ID).Credits.String())
	assert.True(t, db.account(b.ID).Credits.Equal(decimal.NewFromInt(40000)), db.account(b.ID).Credits.String())
	assert.Len(t, db.transactions(a.ID), 2)
}

func TestHandlePaymentEveryProductRow(t *testing.T) {
	table := pricing.Default()
	start := decimal.RequireFromString("1234.5")

	for id, product := range table.Products {
		t.Run("grant "+id, func(t *testing.T) {
			db := newMemDB()
			acc := db.addAccount("buyer@example.com", models.TierFree, start.String())
			svc := newWebhookService(db, config.Config{})

			_, err := svc.HandlePayment(context.Background(), paymentEvent("order.success", "buyer@example.com", id, "grant-"+id))
			require.NoError(t, err)

			got := db.account(acc.ID)
			assert.True(t, got.Credits.Equal(start.Add(product.Credits)), got.Credits.String())
			if product.Tier != "" {
				assert.Equal(t, product.Tier, got.Tier)
			}
		})

		for _, balance := range []decimal.Decimal{start, product.Credits.Add(decimal.NewFromInt(500))} {
			t.Run("refund "+id+" from "+balance.String(), func(t *testing.T) {
				db := newMemDB()
				acc := db.addAccount("buyer@example.com", product.Tier, balance.String())
				svc := newWebhookService(db, config.Config{})

				_, err := svc.HandlePayment(context.Background(), paymentEvent("order.refund", "buyer@example.com", id, "refund-"+id))
				require.NoError(t, err)

				got := db.account(acc.ID)
				want := decimal.Max(decimal.Zero, balance.Sub(product.Credits))
				assert.True(t, got.Credits.Equal(want), "got %s want %s", got.Credits, want)
				assert.Equal(t, models.TierFree, got.Tier)
			})
		}
	}
}

func TestHandleTopUpEveryRow(t *testing.T) {
	table := pricing.Default()
	start := decimal.RequireFromString("1234.5")

	for id, credits := range table.TopUps {
		t.Run("grant "+id, func(t *testing.T) {
			db := newMemDB()
			acc := db.addAccount("buyer@example.com", models.TierOne, start.String())
			svc := newWebhookService(db, config.Config{})

			res, err := svc.HandleTopUp(context.Background(), paymentEvent("order.success", "buyer@example.com", id, "topup-"+id))
			require.NoError(t, err)
			assert.True(t, res.Credits.Equal(credits))

			got := db.account(acc.ID)
			assert.True(t, got.Credits.Equal(start.Add(credits)), got.Credits.String())
			assert.Equal(t, models.TierOne, got.Tier)
		})

		for _, balance := range []decimal.Decimal{start, credits.Add(decimal.NewFromInt(500))} {
			t.Run("refund "+id+" from "+balance.String(), func(t *testing.T) {
				db := newMemDB()
				acc := db.addAccount("buyer@example.com", models.TierOne, balance.String())
				svc := newWebhookService(db, config.Config{})

				_, err := svc.HandleTopUp(context.Background(), paymentEvent("order.refund", "buyer@example.com", id, "topup-refund-"+id))
				require.NoError(t, err)

				got := db.account(acc.ID)
				want := decimal.Max(decimal.Zero, balance.Sub(credits))
				assert.True(t, got.Credits.Equal(want), "got %s want %s", got.Credits, want)
				assert.Equal(t, models.TierOne, got.Tier)
			})
		}
	}
}
