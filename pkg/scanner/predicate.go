package scanner

// PredicateKind tags the variant a CommissionablePredicate carries (spec §9
// "Polymorphic predicate").
type PredicateKind int

const (
	PredicateAny PredicateKind = iota
	PredicateInstance
	PredicateLongDiscriminator
	PredicateShortDiscriminator
	PredicateVendorProduct
	PredicateVendor
	PredicateDeviceType
	PredicateProduct
)

// CommissionablePredicate selects commissionable devices by one partial
// key, per spec §9's tagged variant.
type CommissionablePredicate struct {
	Kind PredicateKind

	InstanceID         string
	LongDiscriminator  uint16
	ShortDiscriminator uint8
	VendorID           uint16
	ProductID          uint16
	DeviceType         uint32
}

func ByInstance(id string) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateInstance, InstanceID: id}
}

func ByLongDiscriminator(d uint16) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateLongDiscriminator, LongDiscriminator: d}
}

func ByShortDiscriminator(sd uint8) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateShortDiscriminator, ShortDiscriminator: sd}
}

func ByVendorProduct(vendorID, productID uint16) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateVendorProduct, VendorID: vendorID, ProductID: productID}
}

func ByVendor(vendorID uint16) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateVendor, VendorID: vendorID}
}

func ByDeviceType(deviceType uint32) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateDeviceType, DeviceType: deviceType}
}

func ByProduct(productID uint16) CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateProduct, ProductID: productID}
}

func AnyCommissionable() CommissionablePredicate {
	return CommissionablePredicate{Kind: PredicateAny}
}

// QueryID returns the canonical ActiveQuery/Waiter key for the predicate
// (spec §3 ActiveQuery.queryId, §4.6.5).
func (p CommissionablePredicate) QueryID() string {
	switch p.Kind {
	case PredicateInstance:
		return p.InstanceID
	case PredicateLongDiscriminator:
		return longDiscriminatorKey(p.LongDiscriminator)
	case PredicateShortDiscriminator:
		return shortDiscriminatorKey(p.ShortDiscriminator)
	case PredicateVendorProduct:
		return vendorProductKey(p.VendorID, p.ProductID)
	case PredicateVendor:
		return vendorKey(p.VendorID)
	case PredicateDeviceType:
		return deviceTypeKey(p.DeviceType)
	case PredicateProduct:
		return productKey(p.ProductID)
	default:
		return AnyCommissioningModeKey
	}
}

// SubServiceQName returns the wire PTR sub-service name to query alongside
// the base commissionable service PTR, or "" for the vendor+product and
// product-only predicates, which have no wire sub-service and fall back to
// the enclosing service PTR only (spec §6).
func (p CommissionablePredicate) SubServiceQName() string {
	switch p.Kind {
	case PredicateInstance:
		return instanceSubQName(p.InstanceID)
	case PredicateLongDiscriminator:
		return subServiceQName(longDiscriminatorKey(p.LongDiscriminator))
	case PredicateShortDiscriminator:
		return subServiceQName(shortDiscriminatorKey(p.ShortDiscriminator))
	case PredicateVendor:
		return subServiceQName(vendorKey(p.VendorID))
	case PredicateDeviceType:
		return subServiceQName(deviceTypeKey(p.DeviceType))
	case PredicateAny:
		return subServiceQName(AnyCommissioningModeKey)
	default:
		return ""
	}
}

// match reports whether dev satisfies the predicate.
func (p CommissionablePredicate) match(dev *CommissionableDevice) bool {
	switch p.Kind {
	case PredicateAny:
		return true
	case PredicateInstance:
		return dev.DeviceIdentifier == p.InstanceID
	case PredicateLongDiscriminator:
		return dev.HasD && dev.D == p.LongDiscriminator
	case PredicateShortDiscriminator:
		return dev.HasSD && dev.SD == p.ShortDiscriminator
	case PredicateVendorProduct:
		return dev.HasV && dev.HasP && dev.V == p.VendorID && dev.P == p.ProductID
	case PredicateVendor:
		return dev.HasV && dev.V == p.VendorID
	case PredicateDeviceType:
		return dev.HasDT && dev.DT == p.DeviceType
	case PredicateProduct:
		return dev.HasP && dev.P == p.ProductID
	default:
		return false
	}
}
