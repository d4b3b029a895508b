/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package spill

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/s2"

	"github.com/numaproj/numaslice/pkg/sliceerr"
)

const (
	_IEEE = 0xedb88320
	// blockMagic marks the start of every block, "SLCE" in little endian
	blockMagic      uint32 = 0x45434c53
	blockHeaderSize        = 16
	// MaxBlockSize bounds the raw payload of a block
	MaxBlockSize = 64 << 20
)

var (
	crc32q = crc32.MakeTable(_IEEE)
	// maxCompressedLen bounds the compressed length read from a header before anything is allocated
	maxCompressedLen = uint32(s2.MaxEncodedLen(MaxBlockSize))
)

// blockHeader is the header of every block in a spill file
type blockHeader struct {
	Magic         uint32
	RawLen        uint32
	CompressedLen uint32
	Checksum      uint32
}

// encodeBlock appends a block holding the s2 compressed payload to buf. The format is
//
//	+---------------+-----------------+------------------------+---------------+------------------------+
//	| magic (uint32)| raw-len (uint32)| compressed-len (uint32)| CRC (uint32)  | compressed payload     |
//	+---------------+-----------------+------------------------+---------------+------------------------+
//
// CRC is computed over the compressed payload and is used for detecting corruptions.
func encodeBlock(buf *bytes.Buffer, payload []byte) error {
	if len(payload) > MaxBlockSize {
		return sliceerr.New(sliceerr.Fatal, "spill", fmt.Sprintf("block of %d bytes exceeds %d", len(payload), MaxBlockSize))
	}
	compressed := s2.Encode(nil, payload)
	hp := blockHeader{
		Magic:         blockMagic,
		RawLen:        uint32(len(payload)),
		CompressedLen: uint32(len(compressed)),
		Checksum:      calculateChecksum(compressed),
	}
	// write the fixed values
	if err := binary.Write(buf, binary.LittleEndian, hp); err != nil {
		return err
	}
	_, err := buf.Write(compressed)
	return err
}

// decodeBlock reads the next block from r. It returns io.EOF when r ends exactly at a block boundary.
func decodeBlock(r io.Reader) ([]byte, error) {
	var hp blockHeader
	if err := binary.Read(r, binary.LittleEndian, &hp); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corrupted("truncated block header")
		}
		return nil, sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	if hp.Magic != blockMagic {
		return nil, corrupted(fmt.Sprintf("bad magic %#x", hp.Magic))
	}

	if hp.RawLen > MaxBlockSize || hp.CompressedLen > maxCompressedLen {
		return nil, corrupted(fmt.Sprintf("block lengths %d/%d out of bounds", hp.RawLen, hp.CompressedLen))
	}
	compressed := make([]byte, hp.CompressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, corrupted(fmt.Sprintf("expected to read length of %d", hp.CompressedLen))
		}
		return nil, sliceerr.Wrap(sliceerr.Resource, "spill", err)
	}
	// verify the checksum
	if calculateChecksum(compressed) != hp.Checksum {
		return nil, sliceerr.ErrChecksumMismatch
	}

	decodedLen, err := s2.DecodedLen(compressed)
	if err != nil || decodedLen != int(hp.RawLen) {
		return nil, corrupted("decoded length mismatch")
	}
	payload, err := s2.Decode(make([]byte, decodedLen), compressed)
	if err != nil {
		return nil, sliceerr.Wrap(sliceerr.DataIntegrity, "spill", err)
	}
	return payload, nil
}

func calculateChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32q)
}

func corrupted(msg string) error {
	return sliceerr.New(sliceerr.DataIntegrity, "spill", msg)
}
