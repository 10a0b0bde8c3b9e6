package tracking

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	stateDim       = 4 // x, y, vx, vy
	measurementDim = 2 // x, y
)

// filter is a constant-velocity linear Kalman filter over [x, y, vx, vy].
type filter struct {
	mean *mat.VecDense
	cov  *mat.Dense

	update *mat.Dense // H
	noise  *mat.Dense // R

	qPos float64
	qVel float64
}

func newFilter(x, y float64, cfg Config) *filter {
	cov := mat.NewDense(stateDim, stateDim, nil)
	cov.Set(0, 0, cfg.InitialPositionVariance)
	cov.Set(1, 1, cfg.InitialPositionVariance)
	cov.Set(2, 2, cfg.InitialVelocityVariance)
	cov.Set(3, 3, cfg.InitialVelocityVariance)

	update := mat.NewDense(measurementDim, stateDim, nil)
	update.Set(0, 0, 1)
	update.Set(1, 1, 1)

	noise := mat.NewDense(measurementDim, measurementDim, nil)
	noise.Set(0, 0, cfg.MeasurementNoise)
	noise.Set(1, 1, cfg.MeasurementNoise)

	return &filter{
		mean:   mat.NewVecDense(stateDim, []float64{x, y, 0, 0}),
		cov:    cov,
		update: update,
		noise:  noise,
		qPos:   cfg.ProcessNoisePos,
		qVel:   cfg.ProcessNoiseVel,
	}
}

func motionMatrix(dt float64) *mat.Dense {
	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 2, dt)
	f.Set(1, 3, dt)
	return f
}

// project returns the prior mean and covariance dt seconds after the current
// posterior. The posterior itself is left untouched.
func (kf *filter) project(dt float64) (*mat.VecDense, *mat.Dense) {
	if dt < 0 {
		dt = 0
	}
	f := motionMatrix(dt)

	mean := mat.NewVecDense(stateDim, nil)
	mean.MulVec(f, kf.mean)

	var fp mat.Dense
	fp.Mul(f, kf.cov)
	cov := mat.NewDense(stateDim, stateDim, nil)
	cov.Mul(&fp, f.T())

	cov.Set(0, 0, cov.At(0, 0)+kf.qPos*dt)
	cov.Set(1, 1, cov.At(1, 1)+kf.qPos*dt)
	cov.Set(2, 2, cov.At(2, 2)+kf.qVel*dt)
	cov.Set(3, 3, cov.At(3, 3)+kf.qVel*dt)
	return mean, cov
}

// correct applies the measurement z to the prior and stores the result as the
// new posterior.
func (kf *filter) correct(prior *mat.VecDense, priorCov *mat.Dense, zx, zy float64) error {
	// S = H P H^T + R
	var hp mat.Dense
	hp.Mul(kf.update, priorCov)
	var s mat.Dense
	s.Mul(&hp, kf.update.T())
	s.Add(&s, kf.noise)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("innovation covariance not invertible: %w", err)
	}

	// K = P H^T S^-1
	var pht mat.Dense
	pht.Mul(priorCov, kf.update.T())
	var gain mat.Dense
	gain.Mul(&pht, &sInv)

	// y = z - H x
	var hx mat.VecDense
	hx.MulVec(kf.update, prior)
	innovation := mat.NewVecDense(measurementDim, []float64{zx - hx.AtVec(0), zy - hx.AtVec(1)})

	var step mat.VecDense
	step.MulVec(&gain, innovation)
	mean := mat.NewVecDense(stateDim, nil)
	mean.AddVec(prior, &step)

	// P = (I - K H) P
	var kh mat.Dense
	kh.Mul(&gain, kf.update)
	identity := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		identity.Set(i, i, 1)
	}
	var ikh mat.Dense
	ikh.Sub(identity, &kh)
	cov := mat.NewDense(stateDim, stateDim, nil)
	cov.Mul(&ikh, priorCov)

	kf.mean = mean
	kf.cov = cov
	return nil
}
