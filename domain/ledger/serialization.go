package ledger

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// The canonical wire encoding is little-endian with fixed-width integers and
// length-prefixed strings, so that hashes are reproducible across
// reimplementations.
var byteOrder = binary.LittleEndian

// maxStringLength is the maximum length accepted for a length-prefixed string
// while deserializing, guarding against allocation attacks from corrupt data.
const maxStringLength = 1 << 20

func writeUint8(w io.Writer, val uint8) error {
	_, err := w.Write([]byte{val})
	return errors.WithStack(err)
}

func readUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return buf[0], nil
}

func writeUint32(w io.Writer, val uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, val uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return byteOrder.Uint64(buf[:]), nil
}

func writeInt64(w io.Writer, val int64) error {
	return writeUint64(w, uint64(val))
}

func readInt64(r io.Reader) (int64, error) {
	val, err := readUint64(r)
	return int64(val), err
}

func writeBool(w io.Writer, val bool) error {
	b := uint8(0)
	if val {
		b = 1
	}
	return writeUint8(w, b)
}

func readBool(r io.Reader) (bool, error) {
	b, err := readUint8(r)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func writeString(w io.Writer, val string) error {
	if err := writeUint64(w, uint64(len(val))); err != nil {
		return err
	}
	_, err := w.Write([]byte(val))
	return errors.WithStack(err)
}

func readString(r io.Reader) (string, error) {
	length, err := readUint64(r)
	if err != nil {
		return "", err
	}
	if length > maxStringLength {
		return "", errors.Errorf("string of length %d exceeds the maximum of %d",
			length, maxStringLength)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.WithStack(err)
	}
	return string(buf), nil
}

func writeFixedBytes(w io.Writer, val []byte) error {
	_, err := w.Write(val)
	return errors.WithStack(err)
}

func readFixedBytes(r io.Reader, length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf, nil
}

func writeHash(w io.Writer, hash *Hash) error {
	_, err := w.Write(hash.hashArray[:])
	return errors.WithStack(err)
}

func readHash(r io.Reader) (*Hash, error) {
	var buf [HashSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, errors.WithStack(err)
	}
	return NewHashFromByteArray(&buf), nil
}

func writeAmount(w io.Writer, amount Amount) error {
	return writeInt64(w, int64(amount))
}

func readAmount(r io.Reader) (Amount, error) {
	val, err := readInt64(r)
	return Amount(val), err
}

func writeHashes(w io.Writer, hashes []*Hash) error {
	if err := writeUint64(w, uint64(len(hashes))); err != nil {
		return err
	}
	for _, hash := range hashes {
		if err := writeHash(w, hash); err != nil {
			return err
		}
	}
	return nil
}

func readHashes(r io.Reader) ([]*Hash, error) {
	count, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if count > maxStringLength {
		return nil, errors.Errorf("hash count %d exceeds the maximum of %d",
			count, maxStringLength)
	}
	hashes := make([]*Hash, count)
	for i := range hashes {
		hashes[i], err = readHash(r)
		if err != nil {
			return nil, err
		}
	}
	return hashes, nil
}
