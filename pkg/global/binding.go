package global

import (
	"errors"
	"fmt"
	"io"

	"spmglobal/pkg/logging"
	"spmglobal/pkg/volmap"
)

// Call is the single-volume entry point used by scripting front ends. It
// takes exactly one argument and yields at most one result. The argument
// may be a volmap.Volume, a []volmap.Volume or header path(s); it must
// resolve to exactly one volume. Volumes opened from paths are closed
// before Call returns.
func Call(nout int, args ...any) ([]float64, error) {
	return (&Estimator{params: DefaultParams()}).Call(nout, args...)
}

// Call is like the package-level Call but uses e's parameters.
func (e *Estimator) Call(nout int, args ...any) ([]float64, error) {
	if len(args) != 1 || nout > 1 {
		return nil, fmt.Errorf("%w: want one volume and at most one result, got %d arguments and %d results",
			ErrUsage, len(args), nout)
	}

	vols, opened, err := resolve(args[0])
	defer closeAll(opened)
	if err != nil {
		return nil, err
	}
	if len(vols) != 1 {
		return nil, fmt.Errorf("%w: handle resolves to %d volumes", ErrInvalidInput, len(vols))
	}

	r, err := e.Estimate(vols[0])
	if err != nil {
		return nil, err
	}
	return []float64{r.Mean}, nil
}

// resolve maps a handle to volumes. Any volume it opens is returned in
// opened, even on error, so that the caller can release it.
func resolve(arg any) (vols []volmap.Volume, opened []io.Closer, err error) {
	switch h := arg.(type) {
	case nil:
		return nil, nil, fmt.Errorf("%w: nil handle", ErrInvalidInput)
	case volmap.Volume:
		if isNilVolume(h) {
			return nil, nil, fmt.Errorf("%w: nil %T", ErrInvalidInput, h)
		}
		return []volmap.Volume{h}, nil, nil
	case []volmap.Volume:
		for i, v := range h {
			if isNilVolume(v) {
				return nil, nil, fmt.Errorf("%w: volume %d is nil", ErrInvalidInput, i)
			}
		}
		return h, nil, nil
	case string:
		return resolve([]string{h})
	case []string:
		for _, path := range h {
			v, err := volmap.Open(path)
			if err != nil {
				return vols, opened, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			vols = append(vols, v)
			opened = append(opened, v)
		}
		return vols, opened, nil
	}
	return nil, nil, fmt.Errorf("%w: unsupported handle type %T", ErrInvalidInput, arg)
}

func closeAll(closers []io.Closer) {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logging.Warningf("failed to release volume: %v", err)
	}
}
