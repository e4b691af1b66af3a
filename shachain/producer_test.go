package shachain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// generationTests are the per-commitment secret generation vectors of BOLT#03
// appendix D.
var generationTests = []struct {
	name   string
	seed   string
	number uint64
	secret string
}{
	{
		name: "generate_from_seed 0 final node",
		seed: "0000000000000000000000000000000000000000000000000000" +
			"000000000000",
		number: 281474976710655,
		secret: "02a40c85b6f28da08dfdbe0926c53fab2de6d28c10301f8f7c40" +
			"73d5e42e3148",
	},
	{
		name: "generate_from_seed FF final node",
		seed: "ffffffffffffffffffffffffffffffffffffffffffffffffffff" +
			"ffffffffffff",
		number: 281474976710655,
		secret: "7cc854b54e3e0dcdb010d7a3fee464a9687be6e8db3be6854c47" +
			"5621e007a5dc",
	},
	{
		name: "generate_from_seed FF alternate bits 1",
		seed: "ffffffffffffffffffffffffffffffffffffffffffffffffffff" +
			"ffffffffffff",
		number: 0xaaaaaaaaaaa,
		secret: "56f4008fb007ca9acf0e15b054d5c9fd12ee06cea347914ddbae" +
			"d70d1c13a528",
	},
	{
		name: "generate_from_seed FF alternate bits 2",
		seed: "ffffffffffffffffffffffffffffffffffffffffffffffffffff" +
			"ffffffffffff",
		number: 0x555555555555,
		secret: "9015daaeb06dba4ccc05b91b2f73bd54405f2be9f217fbacd3c5" +
			"ac2e62327d31",
	},
	{
		name: "generate_from_seed 01 last nontrivial node",
		seed: "0101010101010101010101010101010101010101010101010101" +
			"010101010101",
		number: 1,
		secret: "915c75942a26bb3a433a8ce2cb0427c29ec6c1775cfc78328b57" +
			"f6ba7bfeaa9c",
	},
}

// TestGenerationVectors checks the producer against the published secret
// generation vectors.
func TestGenerationVectors(t *testing.T) {
	t.Parallel()

	for _, test := range generationTests {
		t.Run(test.name, func(t *testing.T) {
			seed, err := hashFromString(test.seed)
			require.NoError(t, err)

			want, err := hashFromString(test.secret)
			require.NoError(t, err)

			producer := NewRevocationProducer(*seed)
			got, err := producer.AtCommitmentNumber(test.number)
			require.NoError(t, err)
			require.Equal(t, want, got)

			// Addressing the same secret by its height yields the
			// same result.
			got, err = producer.AtIndex(MaxCommitmentNumber - test.number)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

// TestProducerDistinctSecrets checks that distinct commitment numbers never
// produce the same secret.
func TestProducerDistinctSecrets(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		var seed chainhash.Hash
		copy(seed[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(
			t, "seed",
		))
		producer := NewRevocationProducer(seed)

		i := rapid.Uint64Range(0, MaxCommitmentNumber).Draw(t, "i")
		j := rapid.Uint64Range(0, MaxCommitmentNumber).Filter(
			func(j uint64) bool { return j != i },
		).Draw(t, "j")

		a, err := producer.AtCommitmentNumber(i)
		require.NoError(t, err)
		b, err := producer.AtCommitmentNumber(j)
		require.NoError(t, err)

		require.NotEqual(t, a, b)
	})
}

// TestProducerRange checks that numbers beyond 48 bits are rejected.
func TestProducerRange(t *testing.T) {
	t.Parallel()

	producer := NewRevocationProducer(chainhash.Hash{})

	_, err := producer.AtCommitmentNumber(MaxCommitmentNumber + 1)
	require.ErrorIs(t, err, ErrCommitmentNumberRange)

	_, err = producer.AtIndex(MaxCommitmentNumber + 1)
	require.ErrorIs(t, err, ErrCommitmentNumberRange)
}
