// Package storage persists provisioning artifacts.
//
// # Record Store
//
// FileRecordStore keeps the device factory configuration table in the ESP-IDF NVS
// partition CSV format consumed by nvs_partition_gen.py:
//
//	key,type,encoding,value
//	factory,namespace,,
//	serial,data,u32,00042
//	hw_gen,data,u16,3
//
// Records are loaded whole and written back whole: SaveAll writes a temporary file
// in the same directory, syncs it and renames it over the original, so a crash
// never leaves a half-written record. Lock takes a non-blocking advisory lock on
// <record>.lock for the duration of a provisioning transaction; a second operator
// invocation fails with ErrStoreLocked instead of interleaving writes.
//
// # Archive Backends
//
// Archive backends keep immutable, content-addressed copies of the audit log.
// Content is identified by the SHA-256 hash of the data. Backends are specified
// using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/backups/eloc/
//   - s3://bucket-name/prefix/?region=eu-central-1&endpoint=minio.local:9000
//   - vault://vault.factory.local:8200/secret/eloc/audit?cert=client.pem&key=client-key.pem
//
// # Multi-Backend Example
//
//	factory := storage.NewStorageBackendFactory(logger)
//	archive, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
//	    "file:///var/backups/eloc/",
//	    "s3://eloc-factory/audit/?region=eu-central-1",
//	})
//	if err != nil {
//	    return err
//	}
//	id, err := archive.Store(ctx, auditCSV)
package storage
