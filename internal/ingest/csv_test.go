package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroke-trial-screener/internal/domain"
)

func newTestSource() *CSVSource {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewCSVSource(logger)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAdmissionsCurrentLayout(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "admissions.csv",
		"subject_id,hadm_id,admittime,dischtime,admission_type,anchor_age\n"+
			"10,100,2019-03-01 08:00:00,2019-03-05 08:00:00,ew emer.,70\n"+
			"11,101,2019-04-02 12:30:00,,ELECTIVE,55\n")

	admissions, err := s.LoadAdmissions(path)
	require.NoError(t, err)
	require.Len(t, admissions, 2)

	first := admissions[0]
	assert.Equal(t, "10", first.SubjectID)
	assert.Equal(t, "100", first.HadmID)
	assert.Equal(t, "EW EMER.", first.AdmissionType)
	assert.True(t, first.IsEmergency())
	assert.Equal(t, 70.0, first.Age)
	assert.InDelta(t, 4.0, first.LengthOfStay, 1e-9)

	// No discharge time: length of stay stays zero.
	assert.Zero(t, admissions[1].LengthOfStay)
}

func TestLoadAdmissionsLegacyLayoutWithDOB(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "ADMISSIONS.csv",
		"SUBJECT_ID,HADM_ID,ADMITTIME,DISCHTIME,ADMISSION_TYPE,DOB\n"+
			"20,200,2150-06-01 10:00:00,2150-06-03 10:00:00,EMERGENCY,2080-06-01 00:00:00\n")

	admissions, err := s.LoadAdmissions(path)
	require.NoError(t, err)
	require.Len(t, admissions, 1)

	assert.InDelta(t, 70.0, admissions[0].Age, 0.1)
}

func TestLoadAdmissionsClipsShiftedDOB(t *testing.T) {
	// De-identified extracts push elderly birth dates ~300 years back.
	s := newTestSource()
	path := writeFile(t, "admissions.csv",
		"subject_id,hadm_id,admittime,admission_type,dob\n"+
			"30,300,2150-06-01 10:00:00,EMERGENCY,1850-06-01 00:00:00\n")

	admissions, err := s.LoadAdmissions(path)
	require.NoError(t, err)
	assert.Equal(t, 120.0, admissions[0].Age)
}

func TestLoadAdmissionsDuplicateHadmIDFatal(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "admissions.csv",
		"subject_id,hadm_id,admittime,admission_type\n"+
			"10,100,2019-03-01 08:00:00,EMERGENCY\n"+
			"11,100,2019-03-02 08:00:00,EMERGENCY\n")

	_, err := s.LoadAdmissions(path)
	require.Error(t, err)

	var ingestErr *domain.IngestError
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, 3, ingestErr.Row)
	assert.Contains(t, ingestErr.Message, "duplicate hadm_id")
}

func TestLoadAdmissionsMissingHadmIDFatal(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "admissions.csv",
		"subject_id,hadm_id,admittime,admission_type\n"+
			"10,,2019-03-01 08:00:00,EMERGENCY\n")

	_, err := s.LoadAdmissions(path)

	var ingestErr *domain.IngestError
	require.True(t, errors.As(err, &ingestErr))
}

func TestLoadAdmissionsMissingColumnsFatal(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "admissions.csv", "foo,bar\n1,2\n")

	_, err := s.LoadAdmissions(path)

	var ingestErr *domain.IngestError
	require.True(t, errors.As(err, &ingestErr))
}

func TestLoadDiagnosesCurrentLayout(t *testing.T) {
	s := newTestSource()
	admissions := []domain.Admission{{SubjectID: "10", HadmID: "100"}}

	path := writeFile(t, "diagnoses.csv",
		"subject_id,hadm_id,seq_num,icd_code,icd_version\n"+
			"10,100,1,I63.9,10\n"+
			"10,100,2,i10,10\n"+
			"10,100,3,43491,9\n"+
			"10,999,1,I61,10\n"+
			"10,100,4,E11.9,7\n")

	require.NoError(t, s.LoadDiagnoses(path, admissions))

	// Unknown hadm_id and unknown icd_version rows were skipped.
	require.Len(t, admissions[0].Diagnoses, 3)

	first := admissions[0].Diagnoses[0]
	assert.Equal(t, domain.ICD10, first.System)
	assert.Equal(t, "I639", first.Value) // normalized: dots stripped, uppercased
	assert.True(t, first.IsPrimary())

	assert.Equal(t, "I10", admissions[0].Diagnoses[1].Value)
	assert.Equal(t, domain.ICD9, admissions[0].Diagnoses[2].System)
}

func TestLoadDiagnosesWarnsOnStructurallyInvalidCode(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewCSVSource(logger)
	admissions := []domain.Admission{{SubjectID: "10", HadmID: "100"}}

	path := writeFile(t, "diagnoses.csv",
		"subject_id,hadm_id,seq_num,icd_code,icd_version\n"+
			"10,100,1,I63.9,10\n"+
			"10,100,2,9XYZ!,10\n")

	require.NoError(t, s.LoadDiagnoses(path, admissions))

	// The malformed code stays attached; validation is advisory.
	require.Len(t, admissions[0].Diagnoses, 2)
	assert.Equal(t, "9XYZ!", admissions[0].Diagnoses[1].Value)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["code"] == "9XYZ!" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning for the malformed code")
}

func TestLoadDiagnosesLegacyLayout(t *testing.T) {
	s := newTestSource()
	admissions := []domain.Admission{{SubjectID: "20", HadmID: "200"}}

	path := writeFile(t, "DIAGNOSES_ICD.csv",
		"SUBJECT_ID,HADM_ID,SEQ_NUM,ICD9_CODE\n"+
			"20,200,1,43491\n"+
			"20,200,2,4280\n")

	require.NoError(t, s.LoadDiagnoses(path, admissions))

	require.Len(t, admissions[0].Diagnoses, 2)
	for _, code := range admissions[0].Diagnoses {
		assert.Equal(t, domain.ICD9, code.System)
	}
	assert.True(t, admissions[0].Diagnoses[0].IsPrimary())
	assert.False(t, admissions[0].Diagnoses[1].IsPrimary())
}

func TestLoadDiagnosesMissingCodeColumnFatal(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "diagnoses.csv", "subject_id,hadm_id,seq_num\n10,100,1\n")

	err := s.LoadDiagnoses(path, nil)

	var ingestErr *domain.IngestError
	require.True(t, errors.As(err, &ingestErr))
}

func TestLoadCombined(t *testing.T) {
	s := newTestSource()
	admPath := writeFile(t, "admissions.csv",
		"subject_id,hadm_id,admittime,admission_type,anchor_age\n"+
			"10,100,2019-03-01 08:00:00,EMERGENCY,70\n")
	dxPath := writeFile(t, "diagnoses.csv",
		"subject_id,hadm_id,seq_num,icd_code,icd_version\n"+
			"10,100,1,I63.9,10\n")

	admissions, err := s.Load(admPath, dxPath)
	require.NoError(t, err)
	require.Len(t, admissions, 1)
	assert.Len(t, admissions[0].Diagnoses, 1)
}

func TestLoadScores(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "scores.csv",
		"hadm_id,score\n"+
			"100,0.85\n"+
			"101,1.3\n"+ // out of range: skipped
			"102,not-a-number\n"+ // unparseable: skipped
			"103,0\n")

	scores, err := s.LoadScores(path)
	require.NoError(t, err)

	assert.Len(t, scores, 2)
	assert.Equal(t, 0.85, scores["100"])
	assert.Equal(t, 0.0, scores["103"])
	assert.NotContains(t, scores, "101")
	assert.NotContains(t, scores, "102")
}

func TestLoadScoresMissingColumnsFatal(t *testing.T) {
	s := newTestSource()
	path := writeFile(t, "scores.csv", "id,value\n100,0.5\n")

	_, err := s.LoadScores(path)

	var ingestErr *domain.IngestError
	require.True(t, errors.As(err, &ingestErr))
}

func TestAgeAtAdmission(t *testing.T) {
	dob := time.Date(1950, 3, 1, 0, 0, 0, 0, time.UTC)
	admit := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.InDelta(t, 70.0, AgeAtAdmission(dob, admit), 0.05)
	assert.Equal(t, 0.0, AgeAtAdmission(time.Time{}, admit))
	assert.Equal(t, 0.0, AgeAtAdmission(admit, dob)) // negative clipped
}
