package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// TokenMetadataProgramID is the Metaplex token metadata program.
var TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// updateMetadataAccountV2 is the instruction discriminator for the metadata
// program's UpdateMetadataAccountV2 instruction.
const updateMetadataAccountV2 uint8 = 15

// Creator is one entry of a metadata record's creator array.
type Creator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

// Metadata is the decoded on-chain token metadata record.
type Metadata struct {
	UpdateAuthority      solana.PublicKey
	Mint                 solana.PublicKey
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []Creator
}

// MetadataPDA derives the metadata account address for a mint.
func MetadataPDA(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			TokenMetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		TokenMetadataProgramID,
	)
}

// ParseMetadata decodes the borsh-serialized metadata account data. Only the
// fields the rank-up pipeline needs are decoded; trailing fields (collection,
// uses, edition nonce) are ignored.
func ParseMetadata(data []byte) (*Metadata, error) {
	dec := bin.NewBorshDecoder(data)

	// key byte
	if _, err := dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("failed to decode metadata key: %w", err)
	}

	var meta Metadata
	var err error
	if meta.UpdateAuthority, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("failed to decode update authority: %w", err)
	}
	if meta.Mint, err = readPublicKey(dec); err != nil {
		return nil, fmt.Errorf("failed to decode mint: %w", err)
	}
	if meta.Name, err = readBorshString(dec); err != nil {
		return nil, fmt.Errorf("failed to decode name: %w", err)
	}
	if meta.Symbol, err = readBorshString(dec); err != nil {
		return nil, fmt.Errorf("failed to decode symbol: %w", err)
	}
	if meta.URI, err = readBorshString(dec); err != nil {
		return nil, fmt.Errorf("failed to decode uri: %w", err)
	}
	if meta.SellerFeeBasisPoints, err = dec.ReadUint16(bin.LE); err != nil {
		return nil, fmt.Errorf("failed to decode seller fee: %w", err)
	}

	// creators: Option<Vec<Creator>>
	hasCreators, err := dec.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to decode creators option: %w", err)
	}
	if hasCreators == 1 {
		count, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("failed to decode creators length: %w", err)
		}
		for i := uint32(0); i < count; i++ {
			var c Creator
			if c.Address, err = readPublicKey(dec); err != nil {
				return nil, fmt.Errorf("failed to decode creator address: %w", err)
			}
			verified, err := dec.ReadUint8()
			if err != nil {
				return nil, fmt.Errorf("failed to decode creator verified flag: %w", err)
			}
			c.Verified = verified == 1
			if c.Share, err = dec.ReadUint8(); err != nil {
				return nil, fmt.Errorf("failed to decode creator share: %w", err)
			}
			meta.Creators = append(meta.Creators, c)
		}
	}

	return &meta, nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	b, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(b), nil
}

// readBorshString reads a u32 length-prefixed string. The metadata program
// pads name/symbol/uri to a fixed capacity with NUL bytes inside the string,
// so trailing NULs are stripped.
func readBorshString(dec *bin.Decoder) (string, error) {
	l, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return "", err
	}
	b, err := dec.ReadNBytes(int(l))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// buildUpdateURIData serializes the UpdateMetadataAccountV2 instruction data
// that swaps the record's URI while carrying every other data field through
// unchanged.
func buildUpdateURIData(meta *Metadata, newURI string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(updateMetadataAccountV2)

	// Option<DataV2> = Some
	buf.WriteByte(1)
	writeBorshString(buf, meta.Name)
	writeBorshString(buf, meta.Symbol)
	writeBorshString(buf, newURI)
	binary.Write(buf, binary.LittleEndian, meta.SellerFeeBasisPoints)

	// creators: Option<Vec<Creator>>
	if len(meta.Creators) == 0 {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		binary.Write(buf, binary.LittleEndian, uint32(len(meta.Creators)))
		for _, c := range meta.Creators {
			buf.Write(c.Address.Bytes())
			if c.Verified {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			buf.WriteByte(c.Share)
		}
	}

	// collection: Option = None, uses: Option = None
	buf.WriteByte(0)
	buf.WriteByte(0)

	// new_update_authority, primary_sale_happened, is_mutable: all None
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.WriteByte(0)

	return buf.Bytes()
}

func writeBorshString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}
