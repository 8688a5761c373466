package speech

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const signAlgorithm = "hmac-sha256"

// signedURL 按 host/date/request-line 规则生成带鉴权参数的连接地址
func signedURL(scheme, host, path string, creds credentials, now time.Time) string {
	date := now.UTC().Format(http.TimeFormat)
	signature := sign(canonicalString(host, date, path), creds.apiSecret)

	authOrigin := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="host date request-line", signature="%s"`,
		creds.apiKey, signAlgorithm, signature)

	query := url.Values{}
	query.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authOrigin)))
	query.Set("date", date)
	query.Set("host", host)

	u := url.URL{Scheme: scheme, Host: host, Path: path, RawQuery: query.Encode()}
	return u.String()
}

func canonicalString(host, date, path string) string {
	return fmt.Sprintf("host: %s\ndate: %s\nGET %s HTTP/1.1", host, date, path)
}

func sign(canonical, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// redactedEndpoint 用于日志与错误信息，不含查询参数
func redactedEndpoint(scheme, host, path string) string {
	u := url.URL{Scheme: scheme, Host: host, Path: path}
	return u.String()
}
