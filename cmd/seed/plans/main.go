package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tagihanapp/tagihan/internal/config"
	"github.com/tagihanapp/tagihan/internal/domain"
	"github.com/tagihanapp/tagihan/internal/repository"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds the plan catalog and a demo team with one pending invoice, for local
// development against the sandbox gateway.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)
	planRepo := repository.NewMongoPlanRepository(db)
	teamRepo := repository.NewMongoTeamRepository(db)
	userRepo := repository.NewMongoUserRepository(db)
	subRepo := repository.NewMongoSubscriptionRepository(db)
	invoiceRepo := repository.NewMongoInvoiceRepository(db)

	plans := []*domain.SubscriptionPlan{
		{
			Name:            "Basic",
			Slug:            "basic",
			Description:     "For small teams getting started",
			Price:           39000,
			Currency:        "IDR",
			BillingInterval: "month",
			TrialDays:       14,
			IsActive:        true,
		},
		{
			Name:            "Pro",
			Slug:            "pro",
			Description:     "For growing teams that need more",
			Price:           99000,
			Currency:        "IDR",
			BillingInterval: "month",
			TrialDays:       14,
			IsActive:        true,
		},
		{
			Name:            "Enterprise",
			Slug:            "enterprise",
			Description:     "Custom limits and priority support",
			Price:           299000,
			Currency:        "IDR",
			BillingInterval: "month",
			IsActive:        true,
		},
	}

	seeded := 0
	for _, plan := range plans {
		if _, err := planRepo.GetBySlug(ctx, plan.Slug); err == nil {
			log.Printf("Plan %s already exists, skipping", plan.Slug)
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			log.Fatalf("Failed to check plan %s: %v", plan.Slug, err)
		}
		if err := planRepo.Create(ctx, plan); err != nil {
			log.Fatalf("Failed to seed plan %s: %v", plan.Slug, err)
		}
		seeded++
	}
	log.Printf("✓ Seeded %d plans", seeded)

	// Demo data: one team, one owner, an active basic subscription and a
	// pending invoice ready to charge.
	if _, err := userRepo.GetByEmail(ctx, "demo@tagihan.app"); err == nil {
		log.Println("Demo data already present, done")
		return
	}

	user := &domain.User{
		Email: "demo@tagihan.app",
		Name:  "Demo Owner",
		Phone: "+6281234567890",
	}
	if err := userRepo.Create(ctx, user); err != nil {
		log.Fatalf("Failed to create demo user: %v", err)
	}

	team := &domain.Team{Name: "Demo Team", PlanName: "Basic"}
	if err := teamRepo.Create(ctx, team); err != nil {
		log.Fatalf("Failed to create demo team: %v", err)
	}
	if err := teamRepo.AddMember(ctx, &domain.TeamMember{
		TeamID: team.ID,
		UserID: user.ID,
		Role:   "owner",
	}); err != nil {
		log.Fatalf("Failed to add demo member: %v", err)
	}

	basic, err := planRepo.GetBySlug(ctx, "basic")
	if err != nil {
		log.Fatalf("Failed to load basic plan: %v", err)
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		TeamID:             team.ID,
		PlanID:             basic.ID,
		Status:             domain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := subRepo.Create(ctx, sub); err != nil {
		log.Fatalf("Failed to create demo subscription: %v", err)
	}

	invoice := &domain.Invoice{
		SubscriptionID: sub.ID,
		TeamID:         team.ID,
		InvoiceNumber:  "INV-" + now.Format("2006-01") + "-0001",
		Amount:         basic.Price,
		Currency:       basic.Currency,
		Status:         domain.InvoiceStatusPending,
		DueDate:        now.AddDate(0, 0, 7),
	}
	if err := invoiceRepo.Create(ctx, invoice); err != nil {
		log.Fatalf("Failed to create demo invoice: %v", err)
	}

	log.Printf("✓ Demo team %s with pending invoice %s (amount %d %s)",
		team.ID, invoice.ID, invoice.Amount, invoice.Currency)
}
