/*
Package httpserver implements a read-only status API for a provisioning station.

Dashboards on the factory floor poll it to show the next serial number and the devices
provisioned so far. The server never mutates the record or the audit log and never
returns join keys: appKey and nwkKey are reported as BLAKE2b fingerprints only.

# Endpoints

  - GET /api/v1/record - Current serial, hw_gen, hw_rev and which key fields exist
  - GET /api/v1/audit?limit=N - Audit trail in append order, optionally the last N rows
  - GET /api/v1/audit/{serial} - Latest audit entry of one serial
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

With EnablePprof the pprof handlers are mounted under /debug.
*/
package httpserver
