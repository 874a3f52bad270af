package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
)

func hmacSHA256(secret, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func signBase64(secret, msg string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(secret, msg))
}

func signHex(secret, msg string) string {
	return hex.EncodeToString(hmacSHA256(secret, msg))
}

// do выполняет запрос и отдаёт тело; не-2xx превращается в ошибку с телом.
func do(hc *http.Client, req *http.Request, op string) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s do: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", op, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// compactSymbol: "BTC-USDT" -> "BTCUSDT".
func compactSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}
