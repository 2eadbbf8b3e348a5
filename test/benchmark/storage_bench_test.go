package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/importer"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// sampleCiphers returns n encrypted-looking ciphers, the shape the cipher
// service stores under a single key.
func sampleCiphers(n int) map[string]models.Cipher {
	out := make(map[string]models.Cipher, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("cipher-%05d", i)
		out[id] = models.Cipher{
			ID:   id,
			Type: models.CipherTypeLogin,
			Name: models.EncString("7." + strings.Repeat("A", 64)),
			Login: &models.Login{
				Username: models.EncString("7." + strings.Repeat("B", 48)),
				Password: models.EncString("7." + strings.Repeat("C", 48)),
			},
		}
	}
	return out
}

func stores(b *testing.B) map[string]state.Store {
	b.Helper()
	logger := events.NewNopLogger()
	dir := b.TempDir()

	jsonStore, err := state.NewJSONStore(filepath.Join(dir, "json"), logger)
	if err != nil {
		b.Fatal(err)
	}
	sqliteStore, err := state.NewSQLiteStore(filepath.Join(dir, "vault.db"), logger)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		_ = jsonStore.Close()
		_ = sqliteStore.Close()
	})

	return map[string]state.Store{
		"memory": state.NewMemoryStore(),
		"json":   jsonStore,
		"sqlite": sqliteStore,
	}
}

func BenchmarkStoreSave(b *testing.B) {
	ctx := context.Background()

	for name, store := range stores(b) {
		for _, n := range []int{10, 1000} {
			ciphers := sampleCiphers(n)
			b.Run(fmt.Sprintf("%s/%d", name, n), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if err := store.Save(ctx, "ciphers_bench", ciphers); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkStoreGet(b *testing.B) {
	ctx := context.Background()

	for name, store := range stores(b) {
		if err := store.Save(ctx, "ciphers_bench", sampleCiphers(1000)); err != nil {
			b.Fatal(err)
		}

		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				var out map[string]models.Cipher
				found, err := store.Get(ctx, "ciphers_bench", &out)
				if err != nil || !found {
					b.Fatalf("get: found=%v err=%v", found, err)
				}
			}
		})
	}
}

func BenchmarkImportParse(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("name,url,username,password\n")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "Site %d,https://site%d.example.com/login,user%d,pw-%d\n", i, i, i, i)
	}
	content := sb.String()

	svc := importer.NewService(events.NewNopLogger())
	imp, err := svc.GetImporter(string(importer.FormatChromeCSV))
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(content)))

	for i := 0; i < b.N; i++ {
		result := imp.Parse(content)
		if !result.Success || len(result.Ciphers) != 1000 {
			b.Fatalf("parse: success=%v ciphers=%d", result.Success, len(result.Ciphers))
		}
	}
}
