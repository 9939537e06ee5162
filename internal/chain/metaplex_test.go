package chain

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func writePaddedString(buf *bytes.Buffer, s string, capacity int) {
	padded := make([]byte, capacity)
	copy(padded, s)
	binary.Write(buf, binary.LittleEndian, uint32(capacity))
	buf.Write(padded)
}

// buildAccountData serializes a metadata account the way the metadata
// program lays it out, with name/symbol/uri padded to fixed capacity.
func buildAccountData(updateAuthority, mint, creator solana.PublicKey) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(4) // key: MetadataV1
	buf.Write(updateAuthority.Bytes())
	buf.Write(mint.Bytes())
	writePaddedString(buf, "Shinobi #42", 32)
	writePaddedString(buf, "SHNB", 10)
	writePaddedString(buf, "https://nftstorage.link/ipfs/bafyexample/42.json", 200)
	binary.Write(buf, binary.LittleEndian, uint16(500))

	// creators: Some([creator])
	buf.WriteByte(1)
	binary.Write(buf, binary.LittleEndian, uint32(1))
	buf.Write(creator.Bytes())
	buf.WriteByte(1)   // verified
	buf.WriteByte(100) // share

	// trailing fields the parser ignores
	buf.WriteByte(1) // primary_sale_happened
	buf.WriteByte(1) // is_mutable

	return buf.Bytes()
}

func TestParseMetadata(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	creator := solana.MustPublicKeyFromBase58("Bf2jdfoFrqVS2n6eDtzzmb8cbue7B1ibcZF4QCvruqav")

	meta, err := ParseMetadata(buildAccountData(authority, mint, creator))
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	if !meta.UpdateAuthority.Equals(authority) {
		t.Errorf("update authority = %s", meta.UpdateAuthority)
	}
	if !meta.Mint.Equals(mint) {
		t.Errorf("mint = %s", meta.Mint)
	}
	if meta.Name != "Shinobi #42" {
		t.Errorf("name = %q, padding not stripped", meta.Name)
	}
	if meta.Symbol != "SHNB" {
		t.Errorf("symbol = %q", meta.Symbol)
	}
	if meta.URI != "https://nftstorage.link/ipfs/bafyexample/42.json" {
		t.Errorf("uri = %q", meta.URI)
	}
	if meta.SellerFeeBasisPoints != 500 {
		t.Errorf("seller fee = %d", meta.SellerFeeBasisPoints)
	}
	if len(meta.Creators) != 1 {
		t.Fatalf("creators = %d, want 1", len(meta.Creators))
	}
	if !meta.Creators[0].Address.Equals(creator) {
		t.Errorf("creator = %s", meta.Creators[0].Address)
	}
	if !meta.Creators[0].Verified {
		t.Error("creator not verified")
	}
	if meta.Creators[0].Share != 100 {
		t.Errorf("creator share = %d", meta.Creators[0].Share)
	}
}

func TestParseMetadataNoCreators(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.WriteByte(4)
	buf.Write(solana.NewWallet().PublicKey().Bytes())
	buf.Write(solana.NewWallet().PublicKey().Bytes())
	writePaddedString(buf, "Bare", 32)
	writePaddedString(buf, "B", 10)
	writePaddedString(buf, "https://example.com/bare.json", 200)
	binary.Write(buf, binary.LittleEndian, uint16(0))
	buf.WriteByte(0) // creators: None

	meta, err := ParseMetadata(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}
	if len(meta.Creators) != 0 {
		t.Errorf("creators = %d, want 0", len(meta.Creators))
	}
}

func TestParseMetadataTruncated(t *testing.T) {
	if _, err := ParseMetadata([]byte{4, 1, 2, 3}); err == nil {
		t.Error("expected error for truncated account data")
	}
}

func TestBuildUpdateURIData(t *testing.T) {
	creator := solana.NewWallet().PublicKey()
	meta := &Metadata{
		Name:                 "Shinobi #42",
		Symbol:               "SHNB",
		URI:                  "https://nftstorage.link/ipfs/old/42.json",
		SellerFeeBasisPoints: 500,
		Creators:             []Creator{{Address: creator, Verified: true, Share: 100}},
	}

	newURI := "https://nftstorage.link/ipfs/bafynew/42.json"
	data := buildUpdateURIData(meta, newURI)

	if data[0] != updateMetadataAccountV2 {
		t.Errorf("discriminator = %d, want %d", data[0], updateMetadataAccountV2)
	}
	if data[1] != 1 {
		t.Error("data option byte should be Some")
	}

	if !bytes.Contains(data, []byte(newURI)) {
		t.Error("new uri missing from instruction data")
	}
	if bytes.Contains(data, []byte("old/42.json")) {
		t.Error("old uri leaked into instruction data")
	}
	if !bytes.Contains(data, creator.Bytes()) {
		t.Error("creator array not carried through")
	}

	// the last three option bytes leave authority, primary sale and
	// mutability untouched
	tail := data[len(data)-3:]
	if tail[0] != 0 || tail[1] != 0 || tail[2] != 0 {
		t.Errorf("trailing options = %v, want all None", tail)
	}
}

func TestBuildUpdateURIDataRoundTrip(t *testing.T) {
	// the DataV2 body of the instruction mirrors the account layout closely
	// enough to spot-check string encoding: length prefix then raw bytes
	meta := &Metadata{Name: "N", Symbol: "S", URI: "u"}
	data := buildUpdateURIData(meta, "uri")

	// discriminator, Some, then name as u32 len + bytes
	if got := binary.LittleEndian.Uint32(data[2:6]); got != 1 {
		t.Errorf("name length = %d, want 1", got)
	}
	if data[6] != 'N' {
		t.Errorf("name byte = %q", data[6])
	}
}

func TestMetadataPDA(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	pda1, bump1, err := MetadataPDA(mint)
	if err != nil {
		t.Fatalf("MetadataPDA: %v", err)
	}
	pda2, bump2, err := MetadataPDA(mint)
	if err != nil {
		t.Fatalf("MetadataPDA: %v", err)
	}

	if !pda1.Equals(pda2) || bump1 != bump2 {
		t.Error("PDA derivation is not deterministic")
	}
	if pda1.IsZero() {
		t.Error("derived a zero PDA")
	}

	other, _, err := MetadataPDA(solana.NewWallet().PublicKey())
	if err != nil {
		t.Fatalf("MetadataPDA: %v", err)
	}
	if pda1.Equals(other) {
		t.Error("different mints derived the same PDA")
	}
}
