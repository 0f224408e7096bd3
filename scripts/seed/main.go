package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apotheca/apotheca/internal/app"
	"github.com/apotheca/apotheca/internal/catalog"
	"github.com/apotheca/apotheca/internal/clients"
	"github.com/apotheca/apotheca/internal/facilities"
	"github.com/apotheca/apotheca/internal/inventory"
	"github.com/apotheca/apotheca/internal/platform/db"
	"github.com/apotheca/apotheca/internal/shared"
)

var root = shared.Actor{UserID: 1, Role: shared.RoleSuperuser}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	services := app.NewServices(cfg, app.NewLogger(cfg), pool, nil, nil)

	fmt.Println("→ Seeding facilities...")
	facilityIDs, err := seedFacilities(ctx, services.Facilities)
	if err != nil {
		log.Fatalf("seed facilities: %v", err)
	}

	fmt.Println("→ Seeding catalog...")
	codes, err := seedCatalog(ctx, services.Catalog)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}

	fmt.Println("→ Seeding warehouse stock...")
	if err := seedStock(ctx, services.Inventory, codes, facilityIDs); err != nil {
		log.Fatalf("seed stock: %v", err)
	}

	fmt.Println("→ Seeding clients...")
	if err := seedClients(ctx, services.Clients, facilityIDs); err != nil {
		log.Fatalf("seed clients: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedFacilities(ctx context.Context, svc *facilities.Service) ([]int64, error) {
	wanted := []facilities.Facility{
		{Name: "Adenta Pharmacy", City: "Accra", Region: "Greater Accra", Country: "Ghana", StaffNumber: 6},
		{Name: "Kumasi Central Pharmacy", City: "Kumasi", Region: "Ashanti", Country: "Ghana", StaffNumber: 4},
		{Name: "Takoradi Harbour Pharmacy", City: "Takoradi", Region: "Western", Country: "Ghana", StaffNumber: 3},
	}
	ids := make([]int64, 0, len(wanted))
	for _, f := range wanted {
		existing, _, err := svc.List(ctx, facilities.ListFilters{Search: f.Name, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			ids = append(ids, existing[0].ID)
			continue
		}
		created, err := svc.Create(ctx, root, f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, created.ID)
	}
	return ids, nil
}

func seedCatalog(ctx context.Context, svc *catalog.Service) ([]string, error) {
	items := []catalog.ItemInput{
		{GenericName: "Paracetamol", BrandName: "Panadol", Strength: "500mg", Form: "tablet", PackSize: 100,
			CostPrice: decimal.RequireFromString("12.50"), SellingPrice: decimal.RequireFromString("18.00")},
		{GenericName: "Amoxicillin", Strength: "250mg", Form: "capsule", PackSize: 21,
			CostPrice: decimal.RequireFromString("9.80"), SellingPrice: decimal.RequireFromString("14.70")},
		{GenericName: "Artemether/Lumefantrine", BrandName: "Coartem", Strength: "20/120mg", Form: "tablet", PackSize: 24,
			CostPrice: decimal.RequireFromString("31.00"), SellingPrice: decimal.RequireFromString("42.00")},
	}
	codes := make([]string, 0, len(items))
	for _, input := range items {
		item, err := svc.Create(ctx, root, input)
		if errors.Is(err, catalog.ErrDuplicate) {
			found, _, listErr := svc.List(ctx, catalog.ListFilters{Search: input.GenericName, Limit: 1})
			if listErr != nil {
				return nil, listErr
			}
			if len(found) == 0 {
				return nil, err
			}
			codes = append(codes, found[0].Code)
			continue
		}
		if err != nil {
			return nil, err
		}
		codes = append(codes, item.Code)
	}
	return codes, nil
}

func seedStock(ctx context.Context, svc *inventory.Service, codes []string, facilityIDs []int64) error {
	expiry := inventory.Day(time.Now()).AddDate(1, 0, 0)
	lines := make([]inventory.InboundLineInput, 0, len(codes))
	for i, code := range codes {
		lines = append(lines, inventory.InboundLineInput{
			ItemCode:   code,
			BatchNo:    fmt.Sprintf("SEED-%02d", i+1),
			ExpiryDate: expiry,
			Quantity:   500,
		})
	}
	_, err := svc.ReceiveInbound(ctx, inventory.InboundInput{
		Actor:       root,
		RequestKey:  "seed:inbound:1",
		Supplier:    "Ernest Chemists",
		InvoiceNo:   "SEED-0001",
		InvoiceDate: inventory.Day(time.Now()),
		Lines:       lines,
	})
	if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
		return err
	}

	for _, facilityID := range facilityIDs {
		supply := make([]inventory.LineInput, 0, len(codes))
		for _, code := range codes {
			supply = append(supply, inventory.LineInput{ItemCode: code, Quantity: 50})
		}
		_, err := svc.SupplyToFacility(ctx, inventory.SupplyInput{
			Actor:                 root,
			RequestKey:            fmt.Sprintf("seed:supply:%d", facilityID),
			DestinationFacilityID: facilityID,
			Lines:                 supply,
		})
		if err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			return err
		}
	}
	return nil
}

func seedClients(ctx context.Context, svc *clients.Service, facilityIDs []int64) error {
	if len(facilityIDs) == 0 {
		return nil
	}
	existing, _, err := svc.ListByFacility(ctx, root, clients.ListFilters{FacilityID: facilityIDs[0], Limit: 1})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	seed := []clients.Client{
		{FirstName: "Ama", LastName: "Mensah", Gender: clients.GenderFemale, Age: 34, PhoneNumber: "0244123456",
			MemberType: clients.MemberTypeMember},
		{FirstName: "Kwame", LastName: "Boateng", Gender: clients.GenderMale, Age: 51, PhoneNumber: "0201987654",
			MemberType: clients.MemberTypeInsurance, InsuranceCompany: "acacia", InsuranceID: "AC-88213"},
		{FirstName: "Efua", LastName: "Owusu", Gender: clients.GenderFemale, Age: 29, PhoneNumber: "0551234987",
			MemberType: clients.MemberTypeCorporate, CorporateCompany: "mtn", CorporateID: "MTN-4410"},
	}
	for _, c := range seed {
		c.ParentFacilityID = facilityIDs[0]
		if _, err := svc.Register(ctx, root, c); err != nil {
			return err
		}
	}
	return nil
}
