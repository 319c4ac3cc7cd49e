// Package cryptoutils holds the key material helpers of the provisioning station.
//
// GenerateJoinKeys draws LoRaWAN OTAA credentials (devEUI, appKey, nwkKey) from
// crypto/rand and renders them as uppercase hex, the form nvs_partition_gen.py
// accepts for both string and hex2bin fields. Fingerprint gives a short BLAKE2b
// digest for logs, so keys never appear in operator output.
//
// Seal and Open protect audit log archives. The log carries every device key, so
// archives leaving the station can be encrypted to an offline P-256 key:
//
//   - ECDH with a fresh ephemeral key per archive
//   - HKDF-SHA256 key derivation
//   - AES-256-GCM with the header as additional data
package cryptoutils
