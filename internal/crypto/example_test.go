package crypto_test

import (
	"fmt"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func ExampleProvider_MakeKey() {
	provider := crypto.NewProvider()

	key, err := provider.MakeKey("mypassword", "user@example.com", models.KdfPBKDF2SHA256, 5000)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Key length: %d bytes\n", len(key.Key))
	// Output: Key length: 32 bytes
}

func ExampleProvider_Encrypt() {
	provider := crypto.NewProvider()

	master, err := provider.MakeKey("mypassword", "user@example.com", models.KdfPBKDF2SHA256, 5000)
	if err != nil {
		panic(err)
	}

	encKey, _, err := provider.MakeEncKey(master)
	if err != nil {
		panic(err)
	}

	enc, err := provider.Encrypt([]byte("Hello, World!"), encKey)
	if err != nil {
		panic(err)
	}

	plain, err := provider.Decrypt(enc, encKey)
	if err != nil {
		panic(err)
	}

	fmt.Println(string(plain))
	// Output: Hello, World!
}
