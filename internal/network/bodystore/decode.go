package bodystore

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ParseEncodings 解析 Content-Encoding 头，按应用顺序返回
func ParseEncodings(header string) []string {
	var out []string
	for _, p := range strings.Split(header, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && p != "identity" {
			out = append(out, p)
		}
	}
	return out
}

// Decode 按与应用顺序相反的顺序逐层解码；Content-Encoding 按应用顺序列出编码（RFC 9110 8.4）
func Decode(data []byte, encodings []string) ([]byte, error) {
	for i := len(encodings) - 1; i >= 0; i-- {
		var err error
		data, err = decodeOne(data, encodings[i])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", encodings[i], err)
		}
	}
	return data, nil
}

func decodeOne(data []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		// 规范要求 zlib 封装，但不少服务端直接发送裸 deflate
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer r.Close()
			if out, err := io.ReadAll(r); err == nil {
				return out, nil
			}
		}
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	case "zstd":
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
