// Package provisioning implements the per-device provisioning transaction.
//
// One transaction, run by Service.ProvisionOnce, takes the record store lock, loads
// the factory configuration record, increments its decimal serial, draws a fresh
// devEUI, appKey and nwkKey, replaces the record atomically and appends one audit
// entry:
//
//	lock -> load -> increment + generate -> save (durability point) -> audit append
//
// Nothing is written before the save. A failure after the save but before the audit
// row is durable is reported as *interfaces.AuditAppendFailedAfterCommitError and
// carries the missing entry so an operator can reconcile the log by hand.
//
// # Serial Numbers
//
// Serials are decimal digit strings of arbitrary length. IncrementDecimal keeps
// leading zeros ("00007" -> "00008") and widens on full carry ("99" -> "100").
// When the serial field declares an integer NVS encoding (u8 ... u64, i8 ... i64)
// the incremented value must still fit that type.
package provisioning
