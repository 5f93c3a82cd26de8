package orders_test

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/jeffsasaki/robokassa-order-processor/models"
	"github.com/jeffsasaki/robokassa-order-processor/orders"
	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
)

var merchant = robokassa.Merchant{
	Login:     "demo",
	Password1: "password1",
	Password2: "password2",
	IsTest:    true,
}

// notice builds a result notice signed the way the gateway signs it.
func notice(outSum, invID string, extra models.ExtraParams) robokassa.ResultNotice {
	return robokassa.ResultNotice{
		OutSum:         outSum,
		InvID:          invID,
		SignatureValue: robokassa.Digest([]string{outSum, invID, merchant.Password2}, extra),
		ExtraParams:    extra,
	}
}

var _ = Describe("Service", func() {
	var (
		ctx   context.Context
		store *orders.MemoryStore
		svc   *orders.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = orders.NewMemoryStore()
		svc = orders.NewService(store, merchant)
		Expect(svc.SeedDemoOrders(ctx, slog.Default())).To(Succeed())
	})

	Describe("Create", func() {
		It("stores a created order with a system-assigned id", func() {
			o, err := svc.Create(ctx, orders.CreateRequest{Amount: "42.10", Description: "Widget"})
			Expect(err).NotTo(HaveOccurred())
			Expect(o.ID).To(Equal("1000"))
			Expect(o.Status).To(Equal(models.StatusCreated))
			Expect(o.OutSum()).To(Equal("42.10"))
		})

		It("keeps a caller-assigned id", func() {
			o, err := svc.Create(ctx, orders.CreateRequest{ID: "A-1", Amount: "1", Description: "x"})
			Expect(err).NotTo(HaveOccurred())
			Expect(o.ID).To(Equal("A-1"))
		})

		It("refuses to re-create an existing order", func() {
			_, err := svc.Confirm(ctx, notice("100.00", "1001", nil))
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Create(ctx, orders.CreateRequest{ID: "1001", Amount: "1.00", Description: "x"})
			Expect(err).To(MatchError(orders.ErrAlreadyExists))

			o, err := svc.Get(ctx, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(models.StatusPaid))
			Expect(o.OutSum()).To(Equal("100.00"))
			Expect(o.Description).To(Equal("Basic test order"))
			Expect(o.GatewayData).To(HaveKeyWithValue("OutSum", "100.00"))
		})

		It("skips seeded ids when assigning one", func() {
			ids := map[string]bool{}
			for i := 0; i < 4; i++ {
				o, err := svc.Create(ctx, orders.CreateRequest{Amount: "5", Description: "x"})
				Expect(err).NotTo(HaveOccurred())
				ids[o.ID] = true
			}
			Expect(ids).To(HaveLen(4))
			Expect(ids).NotTo(HaveKey("1001"))
			Expect(ids).NotTo(HaveKey("1002"))

			o, _ := svc.Get(ctx, "1001")
			Expect(o.OutSum()).To(Equal("100.00"))
		})

		It("does not reset orders when seeding again", func() {
			_, err := svc.Confirm(ctx, notice("100.00", "1001", nil))
			Expect(err).NotTo(HaveOccurred())

			Expect(svc.SeedDemoOrders(ctx, slog.Default())).To(Succeed())

			o, _ := svc.Get(ctx, "1001")
			Expect(o.Status).To(Equal(models.StatusPaid))
		})

		DescribeTable("rejects invalid input with a ValidationError",
			func(amount, description string) {
				_, err := svc.Create(ctx, orders.CreateRequest{Amount: amount, Description: description})
				var ve *orders.ValidationError
				Expect(err).To(BeAssignableToTypeOf(ve))
				Expect(orders.IsValidation(err)).To(BeTrue())
			},
			Entry("not a number", "abc", "x"),
			Entry("zero amount", "0", "x"),
			Entry("negative amount", "-5.00", "x"),
			Entry("empty description", "10.00", "  "),
		)
	})

	Describe("RequestPayment", func() {
		It("signs the redirect and moves created to pending", func() {
			raw, o, err := svc.RequestPayment(ctx, "1001")
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(models.StatusPending))

			u, err := url.Parse(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.Query().Get("SignatureValue")).To(Equal("6E438CBB725463664B7D0AFFB78E7168"))
			Expect(u.Query().Get("OutSum")).To(Equal("100.00"))
			Expect(u.Query().Get("IsTest")).To(Equal("1"))

			stored, _ := svc.Get(ctx, "1001")
			Expect(stored.Status).To(Equal(models.StatusPending))
		})

		It("can be repeated while pending", func() {
			_, _, err := svc.RequestPayment(ctx, "1002")
			Expect(err).NotTo(HaveOccurred())
			_, o, err := svc.RequestPayment(ctx, "1002")
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(models.StatusPending))
		})

		It("fails with ErrNotFound for a missing order", func() {
			_, _, err := svc.RequestPayment(ctx, "9999")
			Expect(err).To(MatchError(orders.ErrNotFound))
			_, err = svc.Get(ctx, "9999")
			Expect(err).To(MatchError(orders.ErrNotFound))
		})

		It("leaves an invalid order unchanged", func() {
			Expect(store.Insert(ctx, &models.Order{
				ID: "bad", Amount: decimal.Zero, Description: "x", Status: models.StatusCreated,
			})).To(Succeed())
			Expect(store.Insert(ctx, &models.Order{
				ID: "nodesc", Amount: decimal.NewFromInt(1), Status: models.StatusCreated,
			})).To(Succeed())

			_, _, err := svc.RequestPayment(ctx, "bad")
			Expect(orders.IsValidation(err)).To(BeTrue())
			_, _, err = svc.RequestPayment(ctx, "nodesc")
			Expect(orders.IsValidation(err)).To(BeTrue())

			o, _ := svc.Get(ctx, "bad")
			Expect(o.Status).To(Equal(models.StatusCreated))
		})

		It("never moves a paid order back to pending", func() {
			_, err := svc.Confirm(ctx, notice("100.00", "1001", nil))
			Expect(err).NotTo(HaveOccurred())

			_, _, err = svc.RequestPayment(ctx, "1001")
			Expect(err).To(MatchError(orders.ErrAlreadyPaid))
			o, _ := svc.Get(ctx, "1001")
			Expect(o.Status).To(Equal(models.StatusPaid))
		})
	})

	Describe("Confirm", func() {
		extra := models.ExtraParams{"user": "1", "product": "basic"}

		It("marks a pending order paid and records gateway data", func() {
			_, _, err := svc.RequestPayment(ctx, "1001")
			Expect(err).NotTo(HaveOccurred())

			o, err := svc.Confirm(ctx, notice("100.00", "1001", extra))
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(models.StatusPaid))
			Expect(o.GatewayData).To(Equal(models.GatewayData{
				"OutSum": "100.00", "Shp_user": "1", "Shp_product": "basic",
			}))
			Expect(o.ExtraParams).To(Equal(extra))
		})

		It("accepts a confirmation that arrives before any redirect", func() {
			o, err := svc.Confirm(ctx, notice("250.50", "1002", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(o.Status).To(Equal(models.StatusPaid))
		})

		It("is idempotent", func() {
			n := notice("100.00", "1001", extra)
			first, err := svc.Confirm(ctx, n)
			Expect(err).NotTo(HaveOccurred())
			second, err := svc.Confirm(ctx, n)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Status).To(Equal(models.StatusPaid))
			Expect(second.GatewayData).To(Equal(first.GatewayData))
		})

		It("keeps unknown Shp keys in gateway data only", func() {
			withExtra := models.ExtraParams{"user": "1", "product": "basic", "coupon": "X"}
			o, err := svc.Confirm(ctx, notice("100.00", "1001", withExtra))
			Expect(err).NotTo(HaveOccurred())
			Expect(o.GatewayData).To(HaveKeyWithValue("Shp_coupon", "X"))
			Expect(o.ExtraParams).NotTo(HaveKey("coupon"))
		})

		It("merges gateway data without dropping earlier keys", func() {
			_, err := svc.Confirm(ctx, notice("100.00", "1001", models.ExtraParams{"a": "1"}))
			Expect(err).NotTo(HaveOccurred())
			o, err := svc.Confirm(ctx, notice("100.00", "1001", models.ExtraParams{"b": "2"}))
			Expect(err).NotTo(HaveOccurred())
			Expect(o.GatewayData).To(HaveKeyWithValue("Shp_a", "1"))
			Expect(o.GatewayData).To(HaveKeyWithValue("Shp_b", "2"))
		})

		It("creates a bare paid record for an order it never saw", func() {
			o, err := svc.Confirm(ctx, notice("10.00", "7777", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(o.ID).To(Equal("7777"))
			Expect(o.Status).To(Equal(models.StatusPaid))
			Expect(o.Amount.IsZero()).To(BeTrue())
			Expect(o.Description).To(BeEmpty())
			Expect(o.ExtraParams).To(BeEmpty())
			Expect(o.GatewayData).To(BeEmpty())
		})

		DescribeTable("rejects tampered notices without touching state",
			func(mutate func(n *robokassa.ResultNotice)) {
				n := notice("100.00", "1001", models.ExtraParams{"user": "1", "product": "basic"})
				mutate(&n)
				_, err := svc.Confirm(ctx, n)
				Expect(err).To(MatchError(orders.ErrSignatureMismatch))

				o, _ := svc.Get(ctx, "1001")
				Expect(o.Status).To(Equal(models.StatusCreated))
				Expect(o.GatewayData).To(BeEmpty())
			},
			Entry("OutSum", func(n *robokassa.ResultNotice) { n.OutSum = "100.01" }),
			Entry("InvId", func(n *robokassa.ResultNotice) { n.InvID = "1002" }),
			Entry("Shp value", func(n *robokassa.ResultNotice) { n.ExtraParams = models.ExtraParams{"user": "2", "product": "basic"} }),
			Entry("signature", func(n *robokassa.ResultNotice) { n.SignatureValue = "00000000000000000000000000000000" }),
			Entry("empty signature", func(n *robokassa.ResultNotice) { n.SignatureValue = "" }),
		)

		It("rejects a notice signed with password1", func() {
			n := notice("100.00", "1001", nil)
			n.SignatureValue = robokassa.Digest([]string{"100.00", "1001", merchant.Password1}, nil)
			_, err := svc.Confirm(ctx, n)
			Expect(err).To(MatchError(orders.ErrSignatureMismatch))
		})

		It("does not create a record for a rejected unknown order", func() {
			n := notice("10.00", "8888", nil)
			n.SignatureValue = "BAD"
			_, err := svc.Confirm(ctx, n)
			Expect(err).To(HaveOccurred())
			_, err = svc.Get(ctx, "8888")
			Expect(err).To(MatchError(orders.ErrNotFound))
		})

		It("survives racing duplicate confirmations", func() {
			n := notice("100.00", "1001", extra)
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := svc.Confirm(ctx, n)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			o, _ := svc.Get(ctx, "1001")
			Expect(o.Status).To(Equal(models.StatusPaid))
		})
	})

	Describe("Lookup", func() {
		It("returns the stored order", func() {
			Expect(svc.Lookup(ctx, "1001").Status).To(Equal(models.StatusCreated))
		})

		It("returns a transient unknown record without storing it", func() {
			o := svc.Lookup(ctx, "4242")
			Expect(o.ID).To(Equal("4242"))
			Expect(o.Status).To(Equal(models.StatusUnknown))

			list, err := svc.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})
	})
})
