package voxelindex

import (
	"runtime"
	"sync"

	"github.com/gladius-go/slicer/internal/cerrors"
	"github.com/gladius-go/slicer/internal/geom"
	"github.com/gladius-go/slicer/internal/primitive"
)

// voxelJob is one Z-slab of voxel rows handed to a worker, generalizing
// the teacher's emitterJob/worker-pool split in particles_ecs.go from
// per-emitter particle simulation to per-slab nearest-primitive search.
type voxelJob struct {
	z      int
	lo, hi Coord
}

type voxelResult struct {
	index map[Coord]int32
	typ   map[Coord]PrimType
}

// BuildParallel is the opt-in phase 2/3 builder spec.md §9's Open
// Question carries forward: a worker pool fans the same per-voxel
// search BuildSerial performs across Z slabs, one goroutine per
// runtime.GOMAXPROCS(0) (capped at 8, mirroring the teacher's pool
// sizing). Results are merged without synchronization on the hot path
// since each worker owns a disjoint slab. Its test requires it to
// produce exactly BuildSerial's grid — this path trades
// reference-implementation simplicity for throughput and is not itself
// the ground truth.
func BuildParallel(beams []primitive.BeamData, balls []primitive.BallData, s Settings) (Result, error) {
	if s.VoxelSize <= 0 {
		return Result{}, cerrors.New(cerrors.KindInvalidModel, "voxelindex.BuildParallel", errInvalidVoxelSize)
	}
	if len(beams) == 0 && len(balls) == 0 {
		return Result{}, nil
	}

	bounds := geom.EmptyBox()
	beamBoxes := make([]geom.Box, len(beams))
	for i, b := range beams {
		beamBoxes[i] = b.Bounds()
		bounds = bounds.Union(beamBoxes[i])
	}
	ballBoxes := make([]geom.Box, len(balls))
	for i, b := range balls {
		ballBoxes[i] = b.Bounds()
		bounds = bounds.Union(ballBoxes[i])
	}
	if bounds.IsEmpty() {
		return Result{}, nil
	}

	margin := marginVoxels(s)
	lo, hi := worldBoundsToRange(bounds, s.VoxelSize, margin)

	jobCh := make(chan voxelJob)
	resCh := make(chan voxelResult)

	workerCount := runtime.GOMAXPROCS(0)
	if workerCount > 8 {
		workerCount = 8
	}
	slabCount := hi.Z - lo.Z + 1
	if workerCount > slabCount {
		workerCount = slabCount
	}
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resCh <- searchSlab(job, beams, beamBoxes, balls, ballBoxes, s)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resCh)
	}()

	go func() {
		for z := lo.Z; z <= hi.Z; z++ {
			jobCh <- voxelJob{z: z, lo: lo, hi: hi}
		}
		close(jobCh)
	}()

	idxGrid := &Grid{VoxelSize: s.VoxelSize, Origin: lo, Index: make(map[Coord]int32)}
	var typeGrid *Grid
	if s.SeparateBeamBallGrids {
		typeGrid = &Grid{VoxelSize: s.VoxelSize, Origin: lo, Type: make(map[Coord]PrimType)}
	}

	for res := range resCh {
		for c, v := range res.index {
			idxGrid.Index[c] = v
		}
		if typeGrid != nil {
			for c, v := range res.typ {
				typeGrid.Type[c] = v
			}
		}
	}

	return Result{IndexGrid: idxGrid, TypeGrid: typeGrid}, nil
}

func searchSlab(job voxelJob, beams []primitive.BeamData, beamBoxes []geom.Box, balls []primitive.BallData, ballBoxes []geom.Box, s Settings) voxelResult {
	res := voxelResult{index: make(map[Coord]int32)}
	if s.SeparateBeamBallGrids {
		res.typ = make(map[Coord]PrimType)
	}

	for y := job.lo.Y; y <= job.hi.Y; y++ {
		for x := job.lo.X; x <= job.hi.X; x++ {
			c := Coord{x, y, job.z}
			center := geom.Vec3{
				(float32(x) + 0.5) * s.VoxelSize,
				(float32(y) + 0.5) * s.VoxelSize,
				(float32(job.z) + 0.5) * s.VoxelSize,
			}
			kind, idx, dist, ok := closestPrimitive(center, beams, beamBoxes, balls, ballBoxes, s.MaxDistance)
			if !ok || dist > s.MaxDistance {
				continue
			}
			if s.SeparateBeamBallGrids {
				res.index[c] = int32(idx)
				res.typ[c] = kindToType(kind)
			} else if s.EncodeTypeInIndex {
				v := int32(idx)
				if kind == primitive.KindBall {
					v = -(v + 1)
				}
				res.index[c] = v
			} else {
				res.index[c] = int32(idx)
			}
		}
	}
	return res
}
