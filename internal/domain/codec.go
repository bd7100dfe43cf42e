package domain

import "fmt"

// Record codecs. Layout order is part of the persisted schema; do not
// reorder fields.

// Encode serializes the domain record.
func (d *Domain) Encode() ([]byte, error) {
	var e Encoder
	e.String(d.Name)
	e.Address(d.Authority)
	e.Address(d.Treasury)
	e.U64(d.RenameCost)
	e.U16(d.SaleFeeBps)
	e.U8(d.Bump)
	return e.Bytes()
}

// DecodeDomain deserializes a domain record.
func DecodeDomain(data []byte) (*Domain, error) {
	dec := NewDecoder(data)
	d := &Domain{
		Name:       dec.String(),
		Authority:  dec.Address(),
		Treasury:   dec.Address(),
		RenameCost: dec.U64(),
		SaleFeeBps: dec.U16(),
		Bump:       dec.U8(),
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode domain: %w", err)
	}
	return d, nil
}

// Encode serializes the keychain record.
func (k *Keychain) Encode() ([]byte, error) {
	var e Encoder
	e.String(k.Name)
	e.Address(k.Domain)
	e.U16(uint16(len(k.Keys)))
	for _, key := range k.Keys {
		e.Address(key.Wallet)
		e.Bool(key.Verified)
	}
	e.U8(k.Bump)
	return e.Bytes()
}

// DecodeKeychain deserializes a keychain record.
func DecodeKeychain(data []byte) (*Keychain, error) {
	dec := NewDecoder(data)
	k := &Keychain{
		Name:   dec.String(),
		Domain: dec.Address(),
	}
	n := int(dec.U16())
	for i := 0; i < n && dec.Err() == nil; i++ {
		k.Keys = append(k.Keys, KeychainKeyEntry{
			Wallet:   dec.Address(),
			Verified: dec.Bool(),
		})
	}
	k.Bump = dec.U8()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode keychain: %w", err)
	}
	return k, nil
}

// Encode serializes the reverse-index entry.
func (k *KeychainKey) Encode() ([]byte, error) {
	var e Encoder
	e.Address(k.Wallet)
	e.Address(k.Domain)
	e.Address(k.Keychain)
	e.U8(k.Bump)
	return e.Bytes()
}

// DecodeKeychainKey deserializes a reverse-index entry.
func DecodeKeychainKey(data []byte) (*KeychainKey, error) {
	dec := NewDecoder(data)
	k := &KeychainKey{
		Wallet:   dec.Address(),
		Domain:   dec.Address(),
		Keychain: dec.Address(),
		Bump:     dec.U8(),
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode keychain key: %w", err)
	}
	return k, nil
}

// Encode serializes the listing record.
func (l *Listing) Encode() ([]byte, error) {
	var e Encoder
	e.Address(l.Item)
	e.Address(l.Seller)
	e.Address(l.Keychain)
	e.Address(l.Domain)
	e.U64(l.Price)
	e.Address(l.Currency)
	e.Address(l.Proceeds)
	e.Address(l.EscrowToken)
	e.U8(l.Bump)
	return e.Bytes()
}

// DecodeListing deserializes a listing record.
func DecodeListing(data []byte) (*Listing, error) {
	dec := NewDecoder(data)
	l := &Listing{
		Item:        dec.Address(),
		Seller:      dec.Address(),
		Keychain:    dec.Address(),
		Domain:      dec.Address(),
		Price:       dec.U64(),
		Currency:    dec.Address(),
		Proceeds:    dec.Address(),
		EscrowToken: dec.Address(),
		Bump:        dec.U8(),
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return l, nil
}
