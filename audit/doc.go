// Package audit keeps the durable, append-only history of provisioning
// transactions.
//
// The log is a CSV file with the fixed header
//
//	Serial,devEUI,appKey,nwkKey,hw_gen,hw_rev,timestamp
//
// written once when the file is created. Every successful transaction adds
// exactly one row; rows are never reordered, rewritten or deleted. Timestamps use
// the layout "2006-01-02 15:04:05".
package audit
