package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

func BenchmarkMakeKey(b *testing.B) {
	provider := crypto.NewProvider()

	kdfs := []struct {
		kdf        models.KdfType
		iterations int
	}{
		{models.KdfPBKDF2SHA256, models.MinPBKDF2Iterations},
		{models.KdfPBKDF2SHA256, models.DefaultKdfIterations},
		{models.KdfArgon2id, models.MinArgon2idIterations},
	}

	for _, k := range kdfs {
		b.Run(fmt.Sprintf("%s-%d", k.kdf, k.iterations), func(b *testing.B) {
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				key, err := provider.MakeKey(testutil.TestPassword, testutil.TestEmail, k.kdf, k.iterations)
				if err != nil {
					b.Fatal(err)
				}
				key.Wipe()
			}
		})
	}
}

func BenchmarkDecryptString(b *testing.B) {
	ctx := context.Background()
	f := testutil.NewUnlockedCrypto(b)

	enc, err := f.Service.EncryptString(ctx, "correct horse battery staple", f.EncKey)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := f.Service.DecryptString(ctx, enc, f.EncKey); err != nil {
			b.Fatal(err)
		}
	}
}
