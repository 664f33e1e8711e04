package lexicon

import "sync"

// Built-in category ids.
const (
	CategoryTechnical      Category = "technical"
	CategoryBilling        Category = "billing"
	CategoryGeneral        Category = "general"
	CategoryComplaint      Category = "complaint"
	CategoryFeatureRequest Category = "feature_request"
	CategoryNetwork        Category = "network"
	CategoryDevice         Category = "device"
	CategoryService        Category = "service"
)

// Built-in priority ids, least to most severe.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

// Built-in product ids.
const (
	ProductInternet Product = "internet"
	ProductMobile   Product = "mobile"
	ProductTV       Product = "tv"
	ProductPhone    Product = "phone"
	ProductRouter   Product = "router"
	ProductApp      Product = "app"
	ProductWebsite  Product = "website"
	ProductGeneral  Product = "general"
)

// DefaultVersion is the version of the built-in lexicon.
const DefaultVersion = "bn-2026.10"

var (
	defaultOnce sync.Once
	defaultLex  *Lexicon
)

// Default returns the built-in Bengali/English lexicon for telecom and ISP
// complaints. The same pointer is returned on every call.
func Default() *Lexicon {
	defaultOnce.Do(func() {
		defaultLex = MustNew(DefaultDefinition())
	})
	return defaultLex
}

// DefaultDefinition returns the declarative form of the built-in lexicon. The
// result is a fresh value the caller may modify.
func DefaultDefinition() Definition {
	return Definition{
		Version: DefaultVersion,
		Defaults: Defaults{
			Category: CategoryGeneral,
			Product:  ProductGeneral,
			Priority: PriorityMedium,
		},
		Priorities: []PriorityDef{
			{ID: PriorityLow, Label: "Low Priority"},
			{ID: PriorityMedium, Label: "Medium Priority"},
			{ID: PriorityHigh, Label: "High Priority"},
			{ID: PriorityUrgent, Label: "Urgent Priority"},
			{ID: PriorityCritical, Label: "Critical Priority"},
		},
		Categories: []CategoryDef{
			{
				ID: CategoryTechnical, Label: "Technical Issue", DefaultPriority: PriorityMedium,
				Terms: []Term{
					T("ইন্টারনেট"), T("নেটওয়ার্ক"), T("কানেকশন"), T("স্পিড"), T("রাউটার"), T("মডেম"), T("ওয়াইফাই"),
					T("internet"), T("connection"), T("router"), T("modem"), T("wifi"),
				},
				Subcategories: []SubcategoryDef{
					{Name: "Internet Connectivity", Terms: []Term{T("ইন্টারনেট"), T("কানেকশন"), T("নেট")}},
					{Name: "Device Configuration", Terms: []Term{T("রাউটার"), T("মডেম"), T("ডিভাইস")}},
					{Name: "Software Issue", Terms: []Term{T("সফটওয়্যার"), T("অ্যাপ"), T("software")}},
					{Name: "Hardware Problem", Terms: []Term{T("হার্ডওয়্যার"), T("নষ্ট"), T("hardware")}},
				},
			},
			{
				ID: CategoryBilling, Label: "Billing & Payment", DefaultPriority: PriorityMedium,
				Terms: []Term{
					T("বিল"), T("পেমেন্ট"), T("টাকা"), T("চার্জ"), T("রিচার্জ"), T("রিফান্ড"),
					T("bill"), T("payment"), T("refund"), T("recharge"),
				},
				Subcategories: []SubcategoryDef{
					{Name: "Payment Issue", Terms: []Term{T("পেমেন্ট"), T("পে")}},
					{Name: "Bill Dispute", Terms: []Term{T("অতিরিক্ত বিল"), T("ভুল বিল")}},
					{Name: "Refund Request", Terms: []Term{T("রিফান্ড"), T("ফেরত")}},
					{Name: "Plan Change", Terms: []Term{T("প্ল্যান"), T("প্যাকেজ")}},
				},
			},
			{
				ID: CategoryGeneral, Label: "General Inquiry", DefaultPriority: PriorityLow,
				Terms: []Term{T("জানতে চাই"), T("তথ্য"), T("জিজ্ঞাসা")},
				Subcategories: []SubcategoryDef{
					{Name: "Information Request", Terms: []Term{T("তথ্য"), T("জানতে চাই")}},
					{Name: "Account Help", Terms: []Term{T("অ্যাকাউন্ট"), T("account")}},
					{Name: "Service Inquiry", Terms: []Term{T("সার্ভিস সম্পর্কে")}},
				},
			},
			{
				ID: CategoryComplaint, Label: "Complaint", DefaultPriority: PriorityHigh,
				Terms: []Term{T("অভিযোগ"), T("সমস্যা"), T("খারাপ"), T("বন্ধ"), W("কাজ করছে না", 2)},
				Subcategories: []SubcategoryDef{
					{Name: "Service Quality", Terms: []Term{T("খারাপ"), T("মান")}},
					{Name: "Customer Service", Terms: []Term{T("কাস্টমার কেয়ার"), T("ব্যবহার")}},
					{Name: "Billing Dispute", Terms: []Term{T("বিল")}},
					{Name: "Technical Problem", Terms: []Term{T("কাজ করছে না"), T("বন্ধ")}},
				},
			},
			{
				ID: CategoryFeatureRequest, Label: "Feature Request", DefaultPriority: PriorityLow,
				Terms: []Term{T("নতুন ফিচার"), T("যোগ করুন"), T("চালু করুন"), T("feature")},
				Subcategories: []SubcategoryDef{
					{Name: "New Feature", Terms: []Term{T("নতুন ফিচার"), T("feature")}},
					{Name: "Enhancement", Terms: []Term{T("উন্নত"), T("আরও ভালো")}},
					{Name: "Integration Request", Terms: []Term{T("যুক্ত"), T("ইন্টিগ্রেশন")}},
					{Name: "Custom Solution", Terms: []Term{T("কাস্টম")}},
				},
			},
			{
				ID: CategoryNetwork, Label: "Network Problem", DefaultPriority: PriorityHigh,
				Terms: []Term{T("সিগন্যাল"), T("ধীর"), T("স্লো"), T("লাইন কেটে"), T("নেটওয়ার্ক নেই"), T("signal")},
				Subcategories: []SubcategoryDef{
					{Name: "Slow Speed", Terms: []Term{T("ধীর"), T("স্লো"), T("স্পিড")}},
					{Name: "Connection Drop", Terms: []Term{T("কেটে যায়"), T("লাইন কেটে"), T("ডিসকানেক্ট")}},
					{Name: "No Internet", Terms: []Term{T("নেট নেই"), T("ইন্টারনেট নেই")}},
					{Name: "Poor Signal", Terms: []Term{T("সিগন্যাল"), T("signal")}},
				},
			},
			{
				ID: CategoryDevice, Label: "Device Support", DefaultPriority: PriorityMedium,
				Terms: []Term{T("ডিভাইস"), T("হ্যান্ডসেট"), T("সেট টপ বক্স"), T("device")},
				Subcategories: []SubcategoryDef{
					{Name: "Setup Help", Terms: []Term{T("সেটআপ"), T("setup")}},
					{Name: "Troubleshooting", Terms: []Term{T("চালু হচ্ছে না"), T("রিস্টার্ট")}},
					{Name: "Replacement", Terms: []Term{T("বদলে"), T("পরিবর্তন")}},
					{Name: "Configuration", Terms: []Term{T("কনফিগার"), T("পাসওয়ার্ড")}},
				},
			},
			{
				ID: CategoryService, Label: "Service Request", DefaultPriority: PriorityMedium,
				Terms: []Term{T("সার্ভিস"), T("সেবা"), T("সংযোগ দিন"), T("service")},
				Subcategories: []SubcategoryDef{
					{Name: "Outage", Terms: []Term{T("সার্ভিস বন্ধ"), T("বিভ্রাট")}},
					{Name: "Maintenance", Terms: []Term{T("রক্ষণাবেক্ষণ"), T("মেরামত")}},
					{Name: "Installation", Terms: []Term{T("নতুন সংযোগ"), T("ইনস্টল")}},
					{Name: "Upgrade", Terms: []Term{T("আপগ্রেড"), T("upgrade")}},
				},
			},
		},
		Urgency: []UrgencyDef{
			{Priority: PriorityCritical, Terms: []Term{T("বিপদ"), T("জরুরি অবস্থা"), T("সম্পূর্ণ বন্ধ")}},
			{Priority: PriorityUrgent, Terms: []Term{
				T("জরুরি"), T("দ্রুত"), T("তাড়াতাড়ি"), T("এখনি"), T("অবিলম্বে"), T("খুব সমস্যা"), T("urgent"),
			}},
			{Priority: PriorityHigh, Terms: []Term{T("সমস্যা"), T("বন্ধ"), T("কাজ করছে না"), T("খারাপ")}},
			{Priority: PriorityLow, Terms: []Term{T("জানতে চাই"), T("তথ্য"), T("জিজ্ঞাসা"), T("জানার জন্য")}},
		},
		Products: []ProductDef{
			{ID: ProductInternet, Label: "Internet Service", Terms: []Term{
				T("ইন্টারনেট"), T("নেট"), T("ব্রডব্যান্ড"), T("ওয়াইফাই"), T("wifi"), T("internet"),
			}},
			{ID: ProductMobile, Label: "Mobile Service", Terms: []Term{
				T("মোবাইল"), T("সিম"), T("এসএমএস"), T("mobile"),
			}},
			{ID: ProductTV, Label: "Television Service", Terms: []Term{T("টিভি"), T("টেলিভিশন"), T("চ্যানেল")}},
			{ID: ProductPhone, Label: "Phone Service", Terms: []Term{T("ফোন"), T("কল"), T("ল্যান্ডলাইন")}},
			{ID: ProductRouter, Label: "Router/Modem", Terms: []Term{T("রাউটার"), T("মডেম"), T("router"), T("modem")}},
			{ID: ProductApp, Label: "Mobile App", Terms: []Term{T("অ্যাপ"), T("অ্যাপ্লিকেশন"), T("app")}},
			{ID: ProductWebsite, Label: "Website", Terms: []Term{T("ওয়েবসাইট"), T("ওয়েব"), T("website")}},
			{ID: ProductGeneral, Label: "General Service"},
		},
	}
}
