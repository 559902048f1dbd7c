package auth

import "crypto/sha1"

// NativePassword computes the mysql_native_password authentication response:
// SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password))). An empty
// password yields an empty response, matching the server's expectation for
// anonymous/no-password accounts.
func NativePassword(password string, scramble []byte) []byte {
	if password == "" {
		return []byte{}
	}
	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(scramble)
	h.Write(stage2[:])
	digest := h.Sum(nil)

	out := make([]byte, len(digest))
	for i := range digest {
		out[i] = stage1[i] ^ digest[i]
	}
	return out
}
