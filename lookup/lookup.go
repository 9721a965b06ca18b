// Package lookup defines the cloud lookup contracts validators depend on.
// Implementations wrap provider SDKs (see features/lookup); tests substitute
// in-memory fakes. All lookups are advisory: validators degrade to static
// analysis when a lookup fails.
package lookup

import (
	"context"
	"errors"
)

// ErrPriceNotFound is returned when no on-demand price exists for the
// requested instance type and region combination.
var ErrPriceNotFound = errors.New("lookup: price not found")

type (
	// InstanceTypeInfo describes an EC2 instance type as seen from one region.
	InstanceTypeInfo struct {
		// Known is false when the instance type does not exist at all.
		Known bool
		// Available is true when the type can be launched in the queried
		// region. Meaningless when Known is false.
		Available bool
		// CurrentGeneration is true for current generation types.
		CurrentGeneration bool
		// Architectures lists the processor architectures the type supports
		// (e.g. x86_64, arm64). Empty when the provider did not report any.
		Architectures []string
	}

	// Image describes a machine image.
	Image struct {
		ID          string
		Name        string
		Description string
		// Architecture is the image's processor architecture. Empty when
		// unreported.
		Architecture string
		// Deprecated is true when the image carries a deprecation time in the
		// past.
		Deprecated bool
	}

	// EC2 resolves instance type and image metadata.
	EC2 interface {
		// InstanceType describes the given type in the given region.
		InstanceType(ctx context.Context, region, instanceType string) (InstanceTypeInfo, error)
		// Image resolves an AMI. Returns (nil, nil) when the image does not
		// exist or is not visible to the caller.
		Image(ctx context.Context, region, imageID string) (*Image, error)
	}

	// Pricing resolves on-demand pricing.
	Pricing interface {
		// OnDemandHourlyRate returns the USD hourly rate for a Linux, shared
		// tenancy instance of the given type in the given region. Returns
		// ErrPriceNotFound when the catalog has no matching product.
		OnDemandHourlyRate(ctx context.Context, region, instanceType string) (float64, error)
	}
)
