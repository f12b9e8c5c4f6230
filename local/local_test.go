package local_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foodscan/prodcache"
	"github.com/foodscan/prodcache/local"
)

func openStore(t *testing.T) prodcache.Store {
	t.Helper()
	store, err := local.Open(local.NewDefaultOptions(":memory:").Build())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func floatPtr(value float64) *float64 { return &value }
func intPtr(value int) *int           { return &value }

func TestGetMissing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.GetProduct(ctx, "nope")
	if !prodcache.IsNoSuchProductError(err) {
		t.Errorf("expected NoSuchProductError, got %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	fetched := time.Now().UTC().Truncate(time.Millisecond)
	record := &prodcache.ProductRecord{
		Barcode: "111",
		Name:    "Juice",
		Brand:   "Acme",
		Nutrients: prodcache.Nutrients{
			EnergyKcal: intPtr(45),
			SugarsG:    floatPtr(9.1),
		},
		ETag:          `"v1"`,
		LastFetchedAt: &fetched,
	}
	if err := store.UpsertProduct(ctx, record); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	got, err := store.GetProduct(ctx, "111")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Name != "Juice" || got.Brand != "Acme" || got.ETag != `"v1"` {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Nutrients.EnergyKcal == nil || *got.Nutrients.EnergyKcal != 45 {
		t.Errorf("expected energy 45, got %v", got.Nutrients.EnergyKcal)
	}
	if got.Nutrients.SugarsG == nil || *got.Nutrients.SugarsG != 9.1 {
		t.Errorf("expected sugars 9.1, got %v", got.Nutrients.SugarsG)
	}
	if got.Nutrients.ProteinG != nil {
		t.Errorf("unset protein should stay unknown, got %v", *got.Nutrients.ProteinG)
	}
	if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(fetched) {
		t.Errorf("expected LastFetchedAt %v, got %v", fetched, got.LastFetchedAt)
	}
}

func TestUpsertMerge(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.UpsertProduct(ctx, &prodcache.ProductRecord{
		Barcode: "1",
		Name:    "N1",
		Brand:   "B1",
		Nutrients: prodcache.Nutrients{
			EnergyKcal: intPtr(100),
		},
	}); err != nil {
		t.Fatalf("first UpsertProduct failed: %v", err)
	}

	// A partial update must not null out fields it doesn't specify.
	if err := store.UpsertProduct(ctx, &prodcache.ProductRecord{
		Barcode: "1",
		Brand:   "B2",
	}); err != nil {
		t.Fatalf("second UpsertProduct failed: %v", err)
	}

	got, err := store.GetProduct(ctx, "1")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Name != "N1" {
		t.Errorf("name should be preserved, got %q", got.Name)
	}
	if got.Brand != "B2" {
		t.Errorf("brand should be replaced, got %q", got.Brand)
	}
	if got.Nutrients.EnergyKcal == nil || *got.Nutrients.EnergyKcal != 100 {
		t.Errorf("energy should be preserved, got %v", got.Nutrients.EnergyKcal)
	}
}

func TestUpsertZeroNutrientIsStored(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.UpsertProduct(ctx, &prodcache.ProductRecord{
		Barcode: "1",
		Name:    "Water",
		Brand:   "B",
		Nutrients: prodcache.Nutrients{
			EnergyKcal: intPtr(0),
			FatG:       floatPtr(0),
		},
	}); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	got, err := store.GetProduct(ctx, "1")
	if err != nil {
		t.Fatalf("GetProduct failed: %v", err)
	}
	if got.Nutrients.EnergyKcal == nil || *got.Nutrients.EnergyKcal != 0 {
		t.Errorf("zero energy is a value, not unknown; got %v", got.Nutrients.EnergyKcal)
	}
	if got.Nutrients.FatG == nil || *got.Nutrients.FatG != 0 {
		t.Errorf("zero fat is a value, not unknown; got %v", got.Nutrients.FatG)
	}
}

func TestUpsertRequiresBarcode(t *testing.T) {
	store := openStore(t)
	if err := store.UpsertProduct(context.Background(), &prodcache.ProductRecord{}); err == nil {
		t.Error("UpsertProduct should reject an empty barcode")
	}
}

func seedSearchRows(t *testing.T, store prodcache.Store) {
	t.Helper()
	ctx := context.Background()
	rows := []*prodcache.ProductRecord{
		{Barcode: "100", Name: "Milk", Brand: "Dairy Co"},
		{Barcode: "200", Name: "Milk Chocolate", Brand: "Choco Co"},
		{Barcode: "300", Name: "Almond Milk", Brand: "Nutty Co"},
		{Barcode: "400", Name: "Butter", Brand: "Milkmaid"},
		{Barcode: "500", Name: "Cereal", Brand: "Grain Co"},
		{Barcode: "666", Name: "No Brand Milk", Brand: ""},
	}
	for _, row := range rows {
		if err := store.UpsertProduct(ctx, row); err != nil {
			t.Fatalf("seeding %q failed: %v", row.Barcode, err)
		}
	}
}

func TestSearchRanking(t *testing.T) {
	store := openStore(t)
	seedSearchRows(t, store)

	records, err := store.SearchProducts(context.Background(), "Milk", 10)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}

	var names []string
	for _, record := range records {
		names = append(names, record.Name)
	}
	expect := []string{"Milk", "Milk Chocolate", "Almond Milk", "Butter"}
	if len(names) != len(expect) {
		t.Fatalf("expected %v, got %v", expect, names)
	}
	for i := range expect {
		if names[i] != expect[i] {
			t.Errorf("position %d: expected %q, got %q (all: %v)", i, expect[i], names[i], names)
		}
	}
}

func TestSearchCaseInsensitive(t *testing.T) {
	store := openStore(t)
	seedSearchRows(t, store)

	records, err := store.SearchProducts(context.Background(), "mIlK", 1)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 1 || records[0].Name != "Milk" {
		t.Errorf("expected exact match first regardless of case, got %+v", records)
	}
}

func TestSearchSkipsBrandlessRows(t *testing.T) {
	store := openStore(t)
	seedSearchRows(t, store)

	records, err := store.SearchProducts(context.Background(), "No Brand", 10)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rows without a brand should not be eligible, got %+v", records)
	}
}

func TestSearchByBarcode(t *testing.T) {
	store := openStore(t)
	seedSearchRows(t, store)

	records, err := store.SearchProducts(context.Background(), "500", 10)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 1 || records[0].Barcode != "500" {
		t.Errorf("expected barcode match, got %+v", records)
	}
}

func TestSearchLikeMetacharactersLiteral(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.UpsertProduct(ctx, &prodcache.ProductRecord{
		Barcode: "1",
		Name:    "100% Juice",
		Brand:   "B",
	}); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}

	records, err := store.SearchProducts(ctx, "100%", 10)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the literal %% to match, got %+v", records)
	}

	records, err = store.SearchProducts(ctx, "10_%", 10)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("_ should not act as a wildcard, got %+v", records)
	}
}

func TestSearchLimit(t *testing.T) {
	store := openStore(t)
	seedSearchRows(t, store)

	records, err := store.SearchProducts(context.Background(), "Milk", 2)
	if err != nil {
		t.Fatalf("SearchProducts failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestInTransactionCommit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	err := store.InTransaction(ctx, func(tx prodcache.Store) error {
		for _, barcode := range []string{"1", "2", "3"} {
			if err := tx.UpsertProduct(ctx, &prodcache.ProductRecord{
				Barcode: barcode,
				Name:    "P" + barcode,
				Brand:   "B",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTransaction failed: %v", err)
	}

	for _, barcode := range []string{"1", "2", "3"} {
		if _, err := store.GetProduct(ctx, barcode); err != nil {
			t.Errorf("GetProduct(%q) after commit failed: %v", barcode, err)
		}
	}
}

func TestInTransactionRollback(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	wantErr := errors.New("abort")
	err := store.InTransaction(ctx, func(tx prodcache.Store) error {
		if err := tx.UpsertProduct(ctx, &prodcache.ProductRecord{
			Barcode: "1",
			Name:    "P1",
			Brand:   "B",
		}); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected the fn error to propagate, got %v", err)
	}

	// The batch is all-or-nothing: nothing from the aborted transaction
	// may be visible.
	if _, err := store.GetProduct(ctx, "1"); !prodcache.IsNoSuchProductError(err) {
		t.Errorf("expected rollback to discard the write, got %v", err)
	}
}
