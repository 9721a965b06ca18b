// Package aws implements the cloud lookup contracts on top of the AWS SDK.
// EC2 metadata comes from DescribeInstanceTypes and DescribeImages; on-demand
// rates come from the Pricing API. Results are cached for the lifetime of the
// client and all calls pass through a shared rate limiter so a chatty model
// cannot exhaust API quotas mid-run.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"goa.design/planguard/lookup"
	"goa.design/planguard/telemetry"
)

// defaultRateLimit bounds outbound AWS calls. DescribeInstanceTypes and
// GetProducts both throttle aggressively on burst traffic.
const defaultRateLimit = rate.Limit(5)

// pricingRegionNames maps region codes to the location names the Pricing API
// filters on.
var pricingRegionNames = map[string]string{
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
	"eu-west-1":      "EU (Ireland)",
	"eu-west-2":      "EU (London)",
	"eu-west-3":      "EU (Paris)",
	"eu-central-1":   "EU (Frankfurt)",
	"eu-north-1":     "EU (Stockholm)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
	"ap-northeast-2": "Asia Pacific (Seoul)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
	"ap-southeast-2": "Asia Pacific (Sydney)",
	"ap-south-1":     "Asia Pacific (Mumbai)",
	"ca-central-1":   "Canada (Central)",
	"sa-east-1":      "South America (Sao Paulo)",
}

type (
	// EC2API mirrors the subset of *ec2.Client used by the lookup.
	EC2API interface {
		DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
		DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	}

	// PricingAPI mirrors the subset of *pricing.Client used by the lookup.
	PricingAPI interface {
		GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
	}

	// Options configures the AWS lookup client.
	Options struct {
		// EC2 provides instance type and image metadata. Required for the
		// EC2 lookups.
		EC2 EC2API

		// Pricing provides the on-demand catalog. The Pricing API is only
		// served from a handful of regions; configure the client for one of
		// them (us-east-1 works everywhere).
		Pricing PricingAPI

		// RateLimit overrides the outbound request rate. Zero applies the
		// default of 5 requests per second.
		RateLimit rate.Limit

		// Logger records lookup failures. Nil defaults to a no-op.
		Logger telemetry.Logger
	}

	// Client implements lookup.EC2 and lookup.Pricing over the AWS SDK.
	Client struct {
		ec2     EC2API
		pricing PricingAPI
		limiter *rate.Limiter
		logger  telemetry.Logger

		mu     sync.Mutex
		types  map[string]lookup.InstanceTypeInfo
		images map[string]*lookup.Image
		rates  map[string]float64
	}
)

// New builds the AWS-backed lookup client.
func New(opts Options) (*Client, error) {
	if opts.EC2 == nil && opts.Pricing == nil {
		return nil, errors.New("at least one of the EC2 and pricing clients is required")
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		ec2:     opts.EC2,
		pricing: opts.Pricing,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		types:   make(map[string]lookup.InstanceTypeInfo),
		images:  make(map[string]*lookup.Image),
		rates:   make(map[string]float64),
	}, nil
}

// InstanceType describes an instance type in a region. Unknown types are
// reported through InstanceTypeInfo.Known rather than an error so validators
// can grade them.
func (c *Client) InstanceType(ctx context.Context, region, instanceType string) (lookup.InstanceTypeInfo, error) {
	if c.ec2 == nil {
		return lookup.InstanceTypeInfo{}, errors.New("ec2 client not configured")
	}
	key := region + "/" + instanceType
	c.mu.Lock()
	if info, ok := c.types[key]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return lookup.InstanceTypeInfo{}, err
	}
	output, err := c.ec2.DescribeInstanceTypes(ctx, &ec2.DescribeInstanceTypesInput{
		InstanceTypes: []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
	}, withRegion(region))
	if err != nil {
		if isInvalidInstanceType(err) {
			info := lookup.InstanceTypeInfo{}
			c.store(key, info)
			return info, nil
		}
		return lookup.InstanceTypeInfo{}, fmt.Errorf("describe instance types: %w", err)
	}

	info := lookup.InstanceTypeInfo{Known: true}
	if len(output.InstanceTypes) > 0 {
		it := output.InstanceTypes[0]
		info.Available = true
		info.CurrentGeneration = aws.ToBool(it.CurrentGeneration)
		if it.ProcessorInfo != nil {
			for _, arch := range it.ProcessorInfo.SupportedArchitectures {
				info.Architectures = append(info.Architectures, string(arch))
			}
		}
	}
	c.store(key, info)
	return info, nil
}

// Image resolves an AMI, including deprecated images. Returns (nil, nil) when
// the image does not exist or is not visible to the caller.
func (c *Client) Image(ctx context.Context, region, imageID string) (*lookup.Image, error) {
	if c.ec2 == nil {
		return nil, errors.New("ec2 client not configured")
	}
	key := region + "/" + imageID
	c.mu.Lock()
	if img, ok := c.images[key]; ok {
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	output, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds:          []string{imageID},
		IncludeDeprecated: aws.Bool(true),
	}, withRegion(region))
	if err != nil {
		if isNotFound(err) {
			c.storeImage(key, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("describe images: %w", err)
	}
	if len(output.Images) == 0 {
		c.storeImage(key, nil)
		return nil, nil
	}

	img := translateImage(output.Images[0])
	c.storeImage(key, img)
	return img, nil
}

// OnDemandHourlyRate resolves the USD hourly rate for a Linux shared-tenancy
// instance from the Pricing API.
func (c *Client) OnDemandHourlyRate(ctx context.Context, region, instanceType string) (float64, error) {
	if c.pricing == nil {
		return 0, errors.New("pricing client not configured")
	}
	key := region + "/" + instanceType
	c.mu.Lock()
	if hourly, ok := c.rates[key]; ok {
		c.mu.Unlock()
		return hourly, nil
	}
	c.mu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	output, err := c.pricing.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters:     pricingFilters(region, instanceType),
		MaxResults:  aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("get products: %w", err)
	}
	if len(output.PriceList) == 0 {
		c.logger.Debug(ctx, "no pricing found", "instance_type", instanceType, "region", region)
		return 0, lookup.ErrPriceNotFound
	}

	hourly, err := parseOnDemandRate(output.PriceList[0])
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.rates[key] = hourly
	c.mu.Unlock()
	return hourly, nil
}

func pricingFilters(region, instanceType string) []pricingtypes.Filter {
	termMatch := func(field, value string) pricingtypes.Filter {
		return pricingtypes.Filter{
			Type:  pricingtypes.FilterTypeTermMatch,
			Field: aws.String(field),
			Value: aws.String(value),
		}
	}
	return []pricingtypes.Filter{
		termMatch("instanceType", instanceType),
		termMatch("location", regionName(region)),
		termMatch("operatingSystem", "Linux"),
		termMatch("tenancy", "Shared"),
		termMatch("preInstalledSw", "NA"),
		termMatch("capacitystatus", "Used"),
	}
}

// regionName maps a region code to the Pricing API location name, defaulting
// to N. Virginia for unmapped regions.
func regionName(region string) string {
	if name, ok := pricingRegionNames[region]; ok {
		return name
	}
	return pricingRegionNames["us-east-1"]
}

// parseOnDemandRate extracts the USD rate from a Pricing API product document.
// The document nests the rate under terms.OnDemand.<sku>.priceDimensions.<key>.
func parseOnDemandRate(priceItem string) (float64, error) {
	var doc struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit struct {
						USD string `json:"USD"`
					} `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(priceItem), &doc); err != nil {
		return 0, fmt.Errorf("parse price list entry: %w", err)
	}
	for _, term := range doc.Terms.OnDemand {
		for _, dimension := range term.PriceDimensions {
			if dimension.PricePerUnit.USD == "" {
				continue
			}
			hourly, err := strconv.ParseFloat(dimension.PricePerUnit.USD, 64)
			if err != nil {
				return 0, fmt.Errorf("parse price %q: %w", dimension.PricePerUnit.USD, err)
			}
			return hourly, nil
		}
	}
	return 0, lookup.ErrPriceNotFound
}

func translateImage(img ec2types.Image) *lookup.Image {
	out := &lookup.Image{
		ID:           aws.ToString(img.ImageId),
		Name:         aws.ToString(img.Name),
		Description:  aws.ToString(img.Description),
		Architecture: string(img.Architecture),
	}
	if img.DeprecationTime != nil {
		if t, err := time.Parse(time.RFC3339, *img.DeprecationTime); err == nil {
			out.Deprecated = t.Before(time.Now())
		}
	}
	return out
}

func (c *Client) store(key string, info lookup.InstanceTypeInfo) {
	c.mu.Lock()
	c.types[key] = info
	c.mu.Unlock()
}

func (c *Client) storeImage(key string, img *lookup.Image) {
	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()
}

func withRegion(region string) func(*ec2.Options) {
	return func(o *ec2.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

func isInvalidInstanceType(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceType"
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "InvalidAMIID.NotFound", "InvalidAMIID.Malformed", "InvalidAMIID.Unavailable":
		return true
	}
	return false
}
