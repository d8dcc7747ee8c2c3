package catalog

// doesNotSupportDeleted lists objects whose describe response advertises
// fields but whose export APIs reject the deleted-records extension (the
// `Deleted` column the batch driver can request). Discovery does not add
// a `Deleted` property to any object's schema; the extension is only
// requested when a catalog's stream selects a `Deleted` field. Kept as a
// data table (not inline conditionals) so it is easy to extend and to
// unit test in isolation, per spec.md §3.
var doesNotSupportDeleted = map[string]bool{
	"ContactSnapshot": true,
	"Export":          true,
	"KeyValue":        true,
}

// SupportsDeletedRecords reports whether objectName's export calls may
// request the deleted-records extension.
func SupportsDeletedRecords(objectName string) bool {
	return !doesNotSupportDeleted[objectName]
}

// restUnsupportedFields is a short per-API-variant deny-list: field names
// the sync (REST/ZOQL) driver cannot select for a given object even
// though AQuA's describe response lists them. Zuora's ZOQL engine rejects
// a handful of computed/aggregate columns outright.
var restUnsupportedFields = map[string]map[string]bool{
	"InvoiceItem": {"UnbilledReceivablesAccountingCode": true},
	"RatePlanCharge": {"Tiers": true},
}

// IsFieldSupported reports whether fieldName on objectName may be
// selected by the given API variant ("REST" or "AQuA"/anything else).
func IsFieldSupported(apiType, objectName, fieldName string) bool {
	if apiType != "REST" {
		return true
	}
	return !restUnsupportedFields[objectName][fieldName]
}
