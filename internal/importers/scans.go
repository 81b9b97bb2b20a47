package importers

import (
	"context"

	"github.com/dusk-indust/cohortgraph/internal/faults"
	"github.com/dusk-indust/cohortgraph/internal/ident"
	"github.com/dusk-indust/cohortgraph/internal/schema"
	"github.com/dusk-indust/cohortgraph/internal/upsert"
)

// Scans imports imaging scans: per subject and episode, the assessment,
// the acquisition device, then each scan with its typed data, file set and
// scores. A scan that already exists is left untouched.
func Scans(ctx context.Context, w *upsert.Writer, in ScansInput, opts Options) (*Report, error) {
	s := newSession(NameScans, w, opts)
	keys := sortedKeys(in)
	total := 0
	for _, eps := range in {
		for _, ep := range eps {
			total += len(ep.Scans)
		}
	}
	return s.run(ctx, total, func(ctx context.Context, c *counter) error {
		if err := checkScans(in); err != nil {
			return s.fail(err)
		}
		if err := s.prepare(ctx, keys); err != nil {
			return err
		}
		for _, key := range keys {
			for _, ep := range in[key] {
				if err := s.scanEpisode(ctx, key, ep, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// checkScans validates typed-data declarations before anything is written.
func checkScans(in ScansInput) *faults.Fault {
	for key, eps := range in {
		for _, ep := range eps {
			if ep.Assessment.str("identifier") == "" {
				return faults.New(faults.InvalidInput, "scan episode of %q without assessment identifier", key).
					With(faults.CtxSubject, key)
			}
			for _, sc := range ep.Scans {
				if sc.TypeData == nil {
					continue
				}
				if t := typeDataType(sc); !schema.IsTypeData(t) {
					return faults.New(faults.InvalidInput, "scan %q: unknown typed data %q", sc.Scan.str("identifier"), t).
						With(faults.CtxIdentifier, sc.Scan.str("identifier"))
				}
			}
		}
	}
	return nil
}

func typeDataType(sc ScanRecord) string {
	if t := sc.TypeData.str("type"); t != "" {
		return t
	}
	return sc.Scan.str("type")
}

func (s *session) scanEpisode(ctx context.Context, subject string, ep ScanEpisode, c *counter) error {
	device, deviceCreated, err := s.device(ctx, ep.Device)
	if err != nil {
		return err
	}
	assessment, _, err := s.assessment(ctx, ep.Assessment, device, subject)
	if err != nil {
		return err
	}
	// The exam card describes how the device was set up; it is recorded
	// once, with the device.
	if deviceCreated && ep.ExamCard != nil {
		if err := s.attachFiles(ctx, ep.ExamCard.FileSet, ep.ExamCard.ExternalResources, device, assessment); err != nil {
			return err
		}
	}

	for _, sc := range ep.Scans {
		scan, created, err := s.w.ResolveByKey(ctx, "Scan", sc.Scan.clone())
		if err != nil {
			return err
		}
		if !created {
			s.log.Debug("scan already imported", "identifier", sc.Scan.str("identifier"))
			c.step()
			continue
		}
		if err := s.episodeLinks(ctx, scan, assessment, subject); err != nil {
			return err
		}
		if device != "" {
			if err := s.w.Link(ctx, scan, schema.RelUsesDevice, device, false); err != nil {
				return err
			}
		}
		if sc.TypeData != nil {
			data, err := s.w.Create(ctx, typeDataType(sc), sc.TypeData.clone())
			if err != nil {
				return err
			}
			if err := s.w.Link(ctx, scan, schema.RelHasData, data, false); err != nil {
				return err
			}
		}
		if err := s.attachFiles(ctx, sc.FileSet, sc.ExternalResources, scan, assessment); err != nil {
			return err
		}
		if err := s.attachScores(ctx, scan, assessment, sc.Scores); err != nil {
			return err
		}
		c.step()
	}
	return nil
}

// device resolves the acquisition device by the hash of manufacturer, model
// and serial number and links a new device to the center.
func (s *session) device(ctx context.Context, attrs Attrs) (string, bool, error) {
	if len(attrs) == 0 {
		return "", false, nil
	}
	a := attrs.clone()
	a["identifier"] = ident.DeviceIdentifier(attrs.str("manufacturer"), attrs.str("model"), attrs.str("serialNumber"))
	id, created, err := s.w.ResolveByKey(ctx, "Device", a)
	if err != nil {
		return "", false, err
	}
	if created {
		if err := s.w.Link(ctx, id, schema.RelDeviceCenter, s.center, false); err != nil {
			return "", false, err
		}
	}
	return id, created, nil
}
