// Package fakedata implements a fake image classification dataset, to train and compare models
// without real data.
//
// Each example is generated from its index and the dataset seed, so the same configuration always
// yields the same examples, in the same order.
package fakedata

import (
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"io"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"sync"
)

// Images is a fake image dataset. Images are shaped [height, width, channels] (channels last), with
// values uniformly distributed in [0, 1), and labels uniformly distributed in [0, numClasses).
//
// It implements train.Dataset: each Yield returns one batch with inputs = [images] and labels =
// [one-hot labels], until the end of the epoch when it returns io.EOF. The last batch of an epoch may
// be smaller.
type Images struct {
	name                               string
	size, channels, imageSize, classes int
	batchSize                          int
	seed                               uint64
	dtype                              dtypes.DType

	mu   sync.Mutex
	next int
}

// Compile-time assert that Images implements train.Dataset.
var _ train.Dataset = (*Images)(nil)

// Config for Images, created with New.
type Config struct {
	ds  *Images
	err error
}

// New starts the configuration of a fake image dataset with size examples of square images.
// Call Config.Done to create it.
func New(name string, size, channels, imageSize, numClasses int) *Config {
	c := &Config{ds: &Images{
		name:      name,
		size:      size,
		channels:  channels,
		imageSize: imageSize,
		classes:   numClasses,
		batchSize: 1,
		dtype:     dtypes.Float32,
	}}
	if size <= 0 || channels <= 0 || imageSize <= 0 || numClasses <= 0 {
		c.err = errors.Errorf("fakedata %q: size (%d), channels (%d), imageSize (%d) and numClasses (%d) must be > 0",
			name, size, channels, imageSize, numClasses)
	}
	return c
}

// BatchSize sets the number of examples yielded at a time. Default is 1.
func (c *Config) BatchSize(batchSize int) *Config {
	if batchSize <= 0 && c.err == nil {
		c.err = errors.Errorf("fakedata %q: invalid batch size %d", c.ds.name, batchSize)
	}
	c.ds.batchSize = batchSize
	return c
}

// Seed sets the seed used to generate the examples. Default is 0.
func (c *Config) Seed(seed uint64) *Config {
	c.ds.seed = seed
	return c
}

// DType of the images: Float32 (the default) or Float16. Labels are always Float32.
func (c *Config) DType(dtype dtypes.DType) *Config {
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 && c.err == nil {
		c.err = errors.Errorf("fakedata %q: images dtype must be Float32 or Float16, got %s", c.ds.name, dtype)
	}
	c.ds.dtype = dtype
	return c
}

// Done returns the configured dataset, or the first configuration error.
func (c *Config) Done() (*Images, error) {
	if c.err != nil {
		return nil, c.err
	}
	klog.V(1).Infof("fakedata %q: %d examples of %dx%dx%d, %d classes, batch size %d", c.ds.name,
		c.ds.size, c.ds.imageSize, c.ds.imageSize, c.ds.channels, c.ds.classes, c.ds.batchSize)
	return c.ds, nil
}

// Name implements train.Dataset.
func (ds *Images) Name() string { return ds.name }

// Len returns the number of examples in one epoch.
func (ds *Images) Len() int { return ds.size }

// NumClasses of the labels.
func (ds *Images) NumClasses() int { return ds.classes }

// ImageSize is the height and width of the images.
func (ds *Images) ImageSize() int { return ds.imageSize }

// Channels of the images.
func (ds *Images) Channels() int { return ds.channels }

// ExampleSize is the number of values of one image.
func (ds *Images) ExampleSize() int { return ds.imageSize * ds.imageSize * ds.channels }

// Example generates the image (flat, in [height, width, channels] order) and label of the example idx.
func (ds *Images) Example(idx int) (image []float32, label int) {
	rng := rand.New(rand.NewPCG(ds.seed, uint64(idx)))
	image = make([]float32, ds.ExampleSize())
	for ii := range image {
		image[ii] = rng.Float32()
	}
	label = rng.IntN(ds.classes)
	return
}

// Reset implements train.Dataset, and restarts the epoch.
func (ds *Images) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
}

// Yield implements train.Dataset.
func (ds *Images) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= ds.size {
		err = io.EOF
		return
	}
	first := ds.next
	count := min(ds.batchSize, ds.size-first)
	ds.next += count

	images := tensors.FromShape(shapes.Make(ds.dtype, count, ds.imageSize, ds.imageSize, ds.channels))
	oneHot := tensors.FromShape(shapes.Make(dtypes.Float32, count, ds.classes))
	exampleSize := ds.ExampleSize()
	exampleLabels := make([]int, count)
	switch ds.dtype {
	case dtypes.Float16:
		tensors.MutableFlatData(images, func(flat []float16.Float16) {
			for ii := range count {
				var image []float32
				image, exampleLabels[ii] = ds.Example(first + ii)
				for jj, value := range image {
					flat[ii*exampleSize+jj] = float16.Fromfloat32(value)
				}
			}
		})
	default:
		tensors.MutableFlatData(images, func(flat []float32) {
			for ii := range count {
				var image []float32
				image, exampleLabels[ii] = ds.Example(first + ii)
				copy(flat[ii*exampleSize:], image)
			}
		})
	}
	tensors.MutableFlatData(oneHot, func(flat []float32) {
		for ii, label := range exampleLabels {
			flat[ii*ds.classes+label] = 1
		}
	})
	return nil, []*tensors.Tensor{images}, []*tensors.Tensor{oneHot}, nil
}
